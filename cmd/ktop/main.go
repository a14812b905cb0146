// Command ktop is a live process/scheduler monitor: a tview table
// refreshed on a timer from a procfs.Snapshot of the running kernel's
// process table.
//
// Grounded on migrate/gui.go's tview.Application/tcell wiring: one
// Application driving a single root primitive, redrawn from a background
// goroutine via app.QueueUpdateDraw instead of touching widgets directly
// off the UI goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/litarvan/maestro-go/internal/kconfig"
	"github.com/litarvan/maestro-go/internal/kernel"
	"github.com/litarvan/maestro-go/internal/procfs"
)

var (
	fCmdline    = flag.String("cmdline", "-s init=/sbin/init", "kernel command line")
	fRefresh    = flag.Duration("refresh", 500*time.Millisecond, "table refresh interval")
)

func main() {
	flag.Parse()

	reg := kconfig.NewRegistry()
	k, err := kernel.Boot(*fCmdline, reg, 4096, 65536, false)
	if err != nil {
		log.Fatalf("ktop: boot failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := k.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ktop: kernel run loop exited: %v", err)
		}
	}()

	app := tview.NewApplication()
	table := tview.NewTable().SetBorders(false).SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" ktop ")

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*fRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rows := procfs.Snapshot(k.Scheduler)
				app.QueueUpdateDraw(func() {
					renderTable(table, rows)
				})
			}
		}
	}()

	if err := app.SetRoot(table, true).Run(); err != nil {
		log.Fatalf("ktop: %v", err)
	}
}

func renderTable(table *tview.Table, rows []procfs.Row) {
	table.Clear()
	headers := []string{"PID", "PPID", "STATE", "PRIO", "QNT", "PENDING"}
	for col, h := range headers {
		table.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for r, row := range rows {
		vals := []string{
			fmt.Sprintf("%d", row.Pid),
			fmt.Sprintf("%d", row.ParentID),
			row.State.String(),
			fmt.Sprintf("%d", row.Priority),
			fmt.Sprintf("%d", row.Quantum),
			pendingSummary(row),
		}
		for col, v := range vals {
			table.SetCell(r+1, col, tview.NewTableCell(v))
		}
	}
}

func pendingSummary(row procfs.Row) string {
	if row.Pending.Empty() {
		return "-"
	}
	return "pending"
}

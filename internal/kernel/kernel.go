// Package kernel boots the core: it parses the command line, opens the
// root device, wires the event dispatcher to the scheduler and signal
// engine, and supervises the background goroutine that stands in for the
// timer generator.
//
// Grounded on muxer.go's startup sequence (construct collaborators, then
// launch a fixed goroutine set tracked by a WaitGroup), generalized here
// to golang.org/x/sync/errgroup so a goroutine's failure tears the whole
// boot group down instead of being silently dropped — the behavior a
// kernel boot actually wants (a dead timer source is fatal, not ignorable).
package kernel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/litarvan/maestro-go/internal/blockio"
	"github.com/litarvan/maestro-go/internal/ext2"
	"github.com/litarvan/maestro-go/internal/kconfig"
	"github.com/litarvan/maestro-go/internal/kerrno"
	"github.com/litarvan/maestro-go/internal/kevent"
	"github.com/litarvan/maestro-go/internal/klog"
	"github.com/litarvan/maestro-go/internal/kregs"
	"github.com/litarvan/maestro-go/internal/ksignal"
	"github.com/litarvan/maestro-go/internal/process"
	"github.com/litarvan/maestro-go/internal/sched"
)

// TickInterval is the simulated timer-device period driving Scheduler.Tick,
// standing in for the hardware PIT/APIC timer's fixed frequency.
const TickInterval = 10 * time.Millisecond

// Kernel bundles every booted subsystem.
type Kernel struct {
	Log        *klog.Ring
	Dispatcher *kevent.Dispatcher
	Scheduler  *sched.Scheduler
	Signals    *ksignal.Engine
	Device     *blockio.Device
	Volume     *ext2.Volume
	Cmdline    kconfig.Cmdline

	pic idlePIC
}

// idlePIC is a trivial PIC whose EOI does nothing; a real interrupt
// controller is out of scope per spec §1.
type idlePIC struct{}

func (idlePIC) EOI(vector int) {}

// Boot performs spec §6's external cmdline contract: parse line, resolve
// root= against reg to a backing image path, open it, and wire the event
// dispatcher, scheduler, and signal engine together. imageBlockSize/
// imageBlockCount/is64Bit describe the device image to open/create.
func Boot(line string, reg *kconfig.Registry, imageBlockSize, imageBlockCount uint32, is64Bit bool) (*Kernel, error) {
	cmdline, err := kconfig.Parse(line)
	if err != nil {
		return nil, err
	}

	log := klog.NewRing(1024, "maestro", "kernel")
	log.SetSilent(cmdline.Silent)

	var dev *blockio.Device
	if cmdline.HasRoot {
		path, ok := reg.Resolve(cmdline.Root)
		if !ok {
			return nil, kerrno.ErrNotFound
		}
		dev, err = blockio.Open(path, imageBlockSize, imageBlockCount, is64Bit)
		if err != nil {
			return nil, err
		}
	}

	disp := kevent.New(idlePIC{}, nil, nil)
	disp.SetPanicRateLimit(5, 5) // at most 5 panic-dumps/sec, bursting to 5
	sig := ksignal.New(nil, noopStacks{}, nil, log, 0)
	sc, err := sched.New(disp, idlePIC{}, log, sig)
	if err != nil {
		return nil, err
	}

	var vol *ext2.Volume
	if dev != nil {
		vol = ext2.NewVolume(dev)
	}

	k := &Kernel{
		Log:        log,
		Dispatcher: disp,
		Scheduler:  sc,
		Signals:    sig,
		Device:     dev,
		Volume:     vol,
		Cmdline:    cmdline,
	}
	log.Emit(klog.INFO, "boot", "kernel up, init=%s silent=%v", cmdline.Init, cmdline.Silent)
	return k, nil
}

// noopStacks answers every signal-handler stack request with a fixed,
// always-available address. Real stack allocation belongs to the (out of
// scope, per spec §1) address-space backend; this lets the signal engine
// run end-to-end in tests without one.
type noopStacks struct{}

func (noopStacks) HandlerStackPointer(p *process.Process) (uint32, error) {
	return 0x7FFFF000, nil
}

// Run launches the timer-generator goroutine in an errgroup and blocks
// until ctx is cancelled or that goroutine returns an error. No dmesg
// drain or superblock checkpoint goroutine is started.
func (k *Kernel) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				snap := kregs.Snapshot{}
				k.Scheduler.Tick(snap, kregs.RingKernel)
			}
		}
	})

	return g.Wait()
}

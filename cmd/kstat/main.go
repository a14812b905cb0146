// Command kstat reports the block size, block count, total capacity and
// 64-bit feature flag of a block device image, the human-readable
// counterpart to the raw block primitives in internal/blockio. It does not
// report usage.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/inhies/go-bytesize"

	"github.com/litarvan/maestro-go/internal/blockio"
)

var (
	fPath       = flag.String("image", "", "path to the block device image")
	fBlockSize  = flag.Uint("block-size", 4096, "block size in bytes, used when creating a new image")
	fBlockCount = flag.Uint("block-count", 65536, "block count, used when creating a new image")
	f64Bit      = flag.Bool("64bit", false, "enable the write-required 64-bit size feature")
)

func main() {
	flag.Parse()
	if *fPath == "" {
		log.Fatal("kstat: -image is required")
	}

	dev, err := blockio.Open(*fPath, uint32(*fBlockSize), uint32(*fBlockCount), *f64Bit)
	if err != nil {
		log.Fatalf("kstat: opening %s: %v", *fPath, err)
	}
	defer dev.Close()

	capacity := bytesize.New(float64(dev.GetBlockSize()) * float64(*fBlockCount))
	fmt.Printf("image:      %s\n", *fPath)
	fmt.Printf("block size: %d bytes\n", dev.GetBlockSize())
	fmt.Printf("blocks:     %d\n", *fBlockCount)
	fmt.Printf("capacity:   %s\n", capacity)
	fmt.Printf("64-bit:     %v\n", dev.Is64Bit())
}

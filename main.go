package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"slabAllocator/mpool"
	"slabAllocator/rpc"
	"slabAllocator/slab"
)

const (
	MB = 1024 * 1024
	KB = 1024

	MinBufferSize = 32
	MaxBufferSize = 128 * KB
	TestIteration = 2

	ServerAddress = "localhost:12340"
)

// TestResult stores test iteration results
type TestResult struct {
	Iteration     int
	TotalWrites   uint64
	TotalFrees    uint64
	FinalUsage    float64
	TotalDuration time.Duration
}

// Block represents an allocated memory block
type Block struct {
	start uint64
	size  uint64
}

func generateRandomSize() uint64 {
	return uint64(rand.Intn(MaxBufferSize-MinBufferSize)) + MinBufferSize
}

func runTest(iteration int, regionPages int) TestResult {
	var Allocate func(uint64) (uint64, error)
	var Free func(uint64, uint64) error
	var GetUsedSize func() uint64

	totalBytes := uint64(regionPages) * slab.BlockSize

	if iteration == 0 {
		region, release, err := slab.MapRegion(regionPages)
		if err != nil {
			log.Fatalf("Failed to map region: %v", err)
		}
		defer release()

		allocator, err := slab.NewAllocator(region)
		if err != nil {
			log.Fatalf("Failed to create allocator: %v", err)
		}
		memoryPool, err := mpool.NewMemoryPool(allocator)
		if err != nil {
			log.Fatalf("Failed to create memory pool: %v", err)
		}
		defer memoryPool.Close(os.Stdout)

		Allocate = memoryPool.Allocate
		Free = memoryPool.Free
		GetUsedSize = allocator.UsedSize
	} else {
		server, err := rpc.NewServer(regionPages)
		if err != nil {
			log.Fatalf("Failed to create server: %v", err)
		}
		defer server.Close()

		go func() {
			if err := server.Serve(ServerAddress); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()

		time.Sleep(time.Second)

		client, err := rpc.Dial(ServerAddress)
		if err != nil {
			log.Fatalf("Failed to create client: %v", err)
		}
		defer client.Close()

		Allocate = client.Malloc
		Free = client.Free
		GetUsedSize = server.UsedSize
	}

	const maxBlocks = 100000
	blocks := make([]Block, maxBlocks)
	blockCount := 0

	var writeCount, deleteCount int
	var mutex sync.Mutex
	var wg sync.WaitGroup

	startTime := time.Now()
	ops := 0
	maxOps := 200000

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mutex.Lock()
				if ops >= maxOps {
					mutex.Unlock()
					return
				}
				ops++
				mutex.Unlock()

				// Randomly decide whether to allocate or free
				if rand.Float64() < 0.7 { // 70% chance to allocate
					size := generateRandomSize()
					start, err := Allocate(size)
					if err != nil {
						if strings.Contains(err.Error(), "no space available") {
							continue
						}
						log.Printf("Failed to allocate %d bytes: %v", size, err)
						continue
					}
					mutex.Lock()
					if blockCount == maxBlocks {
						mutex.Unlock()
						Free(start, size)
						continue
					}
					blocks[blockCount] = Block{start: start, size: size}
					blockCount++
					writeCount++
					mutex.Unlock()
				} else { // 30% chance to free
					mutex.Lock()
					if blockCount == 0 {
						mutex.Unlock()
						continue
					}
					idx := rand.Intn(blockCount)
					block := blocks[idx]
					blocks[idx] = blocks[blockCount-1]
					blockCount--
					mutex.Unlock()

					if err := Free(block.start, block.size); err != nil {
						log.Printf("Failed to free memory: %v", err)
						continue
					}
					deleteCount++
				}
			}
		}()
	}

	wg.Wait()

	// drain the remaining blocks
	for i := 0; i < blockCount; i++ {
		if err := Free(blocks[i].start, blocks[i].size); err != nil {
			log.Printf("Failed to free memory: %v", err)
		}
	}

	used := GetUsedSize()
	return TestResult{
		Iteration:     iteration,
		TotalWrites:   uint64(writeCount),
		TotalFrees:    uint64(deleteCount),
		FinalUsage:    float64(used) / float64(totalBytes) * 100,
		TotalDuration: time.Since(startTime),
	}
}

func runBasicTest(regionPages int) {
	fmt.Printf("Starting allocator test with %d iterations\n", TestIteration)
	fmt.Println("Region size:", regionPages*slab.BlockSize/MB, "MB")
	fmt.Println("Min buffer size:", MinBufferSize, "B")
	fmt.Println("Max buffer size:", MaxBufferSize/KB, "KB")
	fmt.Println()

	var results []TestResult
	for i := 0; i < TestIteration; i++ {
		fmt.Printf("Running iteration %d...\n", i+1)
		result := runTest(i, regionPages)
		results = append(results, result)

		fmt.Printf("Iteration %d results:\n", i+1)
		fmt.Printf("  Total writes: %d\n", result.TotalWrites)
		fmt.Printf("  Total frees: %d\n", result.TotalFrees)
		fmt.Printf("  Final usage: %.5f%%\n", result.FinalUsage)
		fmt.Printf("  Duration: %v\n", result.TotalDuration)
		fmt.Println()
	}
}

func runStressTest(regionPages int) {
	log.Printf("Starting stress test over %d pages", regionPages)

	region, release, err := slab.MapRegion(regionPages)
	if err != nil {
		log.Fatalf("Failed to map region: %v", err)
	}
	defer release()

	allocator, err := slab.NewAllocator(region)
	if err != nil {
		log.Fatalf("Failed to create allocator: %v", err)
	}

	startTime := time.Now()
	blocks := make([]Block, 0, 100000)
	totalWritten := uint64(0)
	iteration := 0

	for iteration < 20 {
		iteration++
		for {
			size := generateRandomSize()
			start, err := allocator.KMalloc(size)
			if err != nil {
				break
			}
			blocks = append(blocks, Block{start: start, size: size})
			totalWritten += size
		}
		usage := float64(allocator.UsedSize()) / float64(uint64(regionPages)*slab.BlockSize) * 100
		log.Printf("Iteration %d: %d MB written, usage %.5f%%", iteration, totalWritten/MB, usage)

		releaseRatio := 0.3 + rand.Float64()*0.2 // 30%-50%
		releaseCount := int(float64(len(blocks)) * releaseRatio)
		for j := 0; j < releaseCount; j++ {
			idx := rand.Intn(len(blocks))
			block := blocks[idx]
			blocks[idx] = blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
			if err := allocator.KFree(block.start); err != nil {
				log.Fatalf("Failed to free memory: %v", err)
			}
		}
	}
	log.Printf("Total duration: %v", time.Since(startTime))
}

func main() {
	testMode := flag.String("mode", "basic", "Test mode: basic, stress")
	regionPages := flag.Int("pages", 32768, "Region size in pages")
	verbose := flag.Bool("v", false, "Enable info logging")
	flag.Parse()

	if *verbose {
		slab.SetLogLevel(slab.LogLevelInfo)
	}

	cpuProfile, err := os.Create("cpu.prof")
	if err != nil {
		log.Fatal("could not create CPU profile: ", err)
	}
	defer cpuProfile.Close()

	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		log.Fatal("could not start CPU profile: ", err)
	}
	defer pprof.StopCPUProfile()

	memProfile, err := os.Create("mem.prof")
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer memProfile.Close()

	switch *testMode {
	case "basic":
		runBasicTest(*regionPages)
	case "stress":
		runStressTest(*regionPages)
	default:
		fmt.Printf("Unknown test mode: %s\n", *testMode)
		fmt.Println("Available modes: basic, stress")
		os.Exit(1)
	}

	if err := pprof.WriteHeapProfile(memProfile); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}

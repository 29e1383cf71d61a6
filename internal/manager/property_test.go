package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"modelpilot/internal/catalog"
)

func TestProperty_ConcurrentAcquireLoadsOnce(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("concurrent acquires of one model share a single load", prop.ForAll(
		func(callers int) bool {
			env := newEnv(t, envOpts{avail: 8 * gib}, desc("ollama/m", catalog.ProviderOllama, 2*gib, false, text))
			env.ollama.gate = make(chan struct{})
			env.ollama.started = make(chan string, 1)

			var wg sync.WaitGroup
			tokens := make([]string, callers)
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					h, err := env.m.Acquire(context.Background(), AcquireRequest{Capability: text, PreferredModelID: "ollama/m"})
					tokens[i], errs[i] = h.Provider.Token, err
				}(i)
			}
			<-env.ollama.started
			close(env.ollama.gate)
			wg.Wait()

			for i := range tokens {
				if errs[i] != nil || tokens[i] != tokens[0] {
					return false
				}
			}
			return env.ollama.loadCount("m") == 1
		},
		gen.IntRange(2, 12),
	))
	properties.TestingRun(t)
}

func TestProperty_BudgetInvariantHolds(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("reservations plus margin never exceed available RAM", prop.ForAll(
		func(sizes []uint64, ops []int) bool {
			seeds := make([]catalog.ModelDescriptor, len(sizes))
			for i, s := range sizes {
				kind := catalog.ProviderOllama
				if i%2 == 1 {
					kind = catalog.ProviderHuggingFace
				}
				seeds[i] = desc(fmt.Sprintf("%s/m%d", kind, i), kind, s*512*mib, false, text)
			}
			env := newEnv(t, envOpts{avail: 8 * gib, margin: gib}, seeds...)
			ctx := context.Background()

			var held []Handle
			for _, op := range ops {
				if op < len(seeds) {
					before := env.m.Loaded()
					h, err := env.m.Acquire(ctx, AcquireRequest{Capability: text, PreferredModelID: seeds[op].ID})
					if err == nil {
						held = append(held, h)
					} else if !IsInsufficientResources(err) || len(env.m.Loaded()) > len(before) {
						return false
					}
				} else if len(held) > 0 {
					env.m.Release(held[0])
					held = held[1:]
				}
				if !env.budgetHolds() {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.UInt64Range(1, 20)),
		gen.SliceOf(gen.IntRange(0, 7)),
	))
	properties.TestingRun(t)
}

func TestProperty_FallsBackToSmallerModel(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("a fitting smaller model is returned when the best one does not fit", prop.ForAll(
		func(availGiB, overGiB, smallMiB uint64) bool {
			avail := availGiB * gib
			env := newEnv(t, envOpts{avail: avail, margin: 256 * mib},
				desc("ollama/best", catalog.ProviderOllama, avail+overGiB*gib, false, image),
				desc("huggingface/org/small", catalog.ProviderHuggingFace, smallMiB*mib, false, image),
			)
			h, err := env.m.Acquire(context.Background(), AcquireRequest{Capability: image})
			return err == nil && h.ModelID() == "huggingface/org/small" && env.ollama.loadCount("best") == 0
		},
		gen.UInt64Range(2, 64),
		gen.UInt64Range(0, 16),
		gen.UInt64Range(1, 1024),
	))
	properties.TestingRun(t)
}

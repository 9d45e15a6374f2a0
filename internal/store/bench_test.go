package store

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

// benchmarkReadHeavy runs nine observer reads per write, the access pattern of
// a run with monitoring attached.
func benchmarkReadHeavy(b *testing.B, strategy string) {
	s, err := New(strategy)
	if err != nil {
		b.Fatal(err)
	}
	var op atomic.Uint64
	r := logic.CycleResult{Processing: time.Microsecond, Deadline: time.Millisecond}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		y := coop.Dedicated{}
		for pb.Next() {
			switch op.Add(1) % 10 {
			case 0:
				if _, err := s.Append(y, r); err != nil {
					b.Error(err)
					return
				}
			case 1:
				_ = s.Recent(8)
			case 2, 3:
				s.Scan(8, func(recent []logic.CycleResult, _ logic.Diagnostics) {
					for _, r := range recent {
						_ = r.Total
					}
				})
			default:
				_ = s.Diagnostics()
			}
		}
	})
}

func BenchmarkReadHeavyMutex(b *testing.B)  { benchmarkReadHeavy(b, StrategyMutex) }
func BenchmarkReadHeavyRWLock(b *testing.B) { benchmarkReadHeavy(b, StrategyRWLock) }
func BenchmarkReadHeavyAtomic(b *testing.B) { benchmarkReadHeavy(b, StrategyAtomic) }

func benchmarkCount(b *testing.B, strategy string) {
	s, err := New(strategy)
	if err != nil {
		b.Fatal(err)
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Count(nil, logic.CountFeedbackSent); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkCountMutex(b *testing.B)  { benchmarkCount(b, StrategyMutex) }
func BenchmarkCountRWLock(b *testing.B) { benchmarkCount(b, StrategyRWLock) }
func BenchmarkCountAtomic(b *testing.B) { benchmarkCount(b, StrategyAtomic) }

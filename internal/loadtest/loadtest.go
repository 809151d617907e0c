// Package loadtest provides utilities for load testing the local store
// and sync queue with realistic data volumes.
//
// A multi-year patient history easily reaches thousands of medication
// records, and the sync queue grows unbounded while a clinic tablet is
// offline, so list and enqueue latency at depth is worth measuring
// before it shows up in the field.
package loadtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/queue"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
)

// TestStore is a populated store for load testing.
type TestStore struct {
	Store      *store.Store
	Queue      *queue.Queue
	Pets       *repo.PetRepo
	Meds       *repo.MedicationRepo
	OwnerIDs   []string
	TotalPets  int
	TotalMeds  int
	TotalItems int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Populate creates a store at dbPath filled with numPets pets spread
// over numOwners owners, medsPerPet medications each, and numItems
// pending queue items.
func Populate(dbPath string, numOwners, numPets, medsPerPet, numItems int) (*TestStore, error) {
	if numOwners < 1 {
		numOwners = 1
	}

	s := store.New(dbPath)
	ts := &TestStore{
		Store: s,
		Queue: queue.New(s),
		Pets:  repo.NewPetRepo(s),
		Meds:  repo.NewMedicationRepo(s),
	}

	ctx := context.Background()
	species := []string{"dog", "cat", "rabbit", "bird"}

	for i := 0; i < numOwners; i++ {
		ts.OwnerIDs = append(ts.OwnerIDs, fmt.Sprintf("owner-%04d", i))
	}

	for i := 0; i < numPets; i++ {
		pet := &model.Pet{
			ID:      fmt.Sprintf("pet-%06d", i),
			OwnerID: ts.OwnerIDs[i%numOwners],
			Name:    fmt.Sprintf("Pet %d", i),
			Species: species[i%len(species)],
		}
		if err := ts.Pets.Save(ctx, pet); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to insert pet %s: %w", pet.ID, err)
		}
		ts.TotalPets++

		for j := 0; j < medsPerPet; j++ {
			med := &model.Medication{
				ID:     fmt.Sprintf("med-%06d-%02d", i, j),
				PetID:  pet.ID,
				Name:   fmt.Sprintf("Medication %d", j),
				Dosage: "5mg",
				Active: j == 0,
			}
			if err := ts.Meds.Save(ctx, med); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("failed to insert medication %s: %w", med.ID, err)
			}
			ts.TotalMeds++
		}
	}

	for i := 0; i < numItems; i++ {
		petID := fmt.Sprintf("pet-%06d", i%max(numPets, 1))
		pet, err := ts.Pets.Get(ctx, petID)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to load pet for queue item: %w", err)
		}
		if _, err := ts.Queue.Enqueue(ctx, model.OpUpdate, model.KindPet, petID, pet); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to enqueue item %d: %w", i, err)
		}
		ts.TotalItems++
	}

	return ts, nil
}

// Close closes the underlying store.
func (ts *TestStore) Close() error {
	if ts.Store != nil {
		return ts.Store.Close()
	}
	return nil
}

// RunConcurrentReads simulates numReaders concurrent clients listing
// pets by owner and draining the pending queue view.
//
// Each reader performs queriesPerReader query pairs, recording latency
// for each. Returns aggregated latency statistics.
func (ts *TestStore) RunConcurrentReads(numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerReader*2)
			ctx := context.Background()
			owner := ts.OwnerIDs[readerID%len(ts.OwnerIDs)]

			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()
				_, err := ts.Pets.ListByOwner(ctx, owner)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}

				start = time.Now()
				_, err = ts.Queue.ListPending(ctx, time.Now())
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d queue list %d failed: %w", readerID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		if err != nil {
			errorCount++
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// MeasureEnqueue records the latency of count sequential enqueues on
// top of the existing queue depth.
func (ts *TestStore) MeasureEnqueue(count int) (*LatencyStats, error) {
	ctx := context.Background()
	durations := make([]time.Duration, 0, count)

	for i := 0; i < count; i++ {
		petID := fmt.Sprintf("pet-%06d", i%max(ts.TotalPets, 1))
		pet, err := ts.Pets.Get(ctx, petID)
		if err != nil {
			return nil, fmt.Errorf("failed to load pet: %w", err)
		}

		start := time.Now()
		_, err = ts.Queue.Enqueue(ctx, model.OpUpdate, model.KindPet, petID, pet)
		durations = append(durations, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("enqueue %d failed: %w", i, err)
		}
		ts.TotalItems++
	}

	return computeLatencyStats(durations), nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          p50,
		P95:          p95,
		P99:          p99,
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Latency Statistics:\n")
	fmt.Printf("  Total Queries: %d\n", s.TotalQueries)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}

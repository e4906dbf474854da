// Package cascade evaluates matcher stages and folds their candidate sets.
//
// Every stage scans its own full index, so stages are independent and can
// run concurrently. The fold is applied strictly in stage order: an item
// survives only if every stage returned it, and it carries the distance
// reported by the last stage.
package cascade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/imgmatch/index"
)

// Stage produces the candidate set of one pipeline entry.
type Stage struct {
	Name string
	Run  func(ctx context.Context) ([]index.Candidate, error)
}

// Error reports which stage failed.
type Error struct {
	Stage int
	Name  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Run evaluates stages and returns their fold, ascending by distance.
//
// With parallelism 1 stages run one after another and evaluation stops as
// soon as the running intersection is empty. Otherwise up to parallelism
// stages run at once (unbounded if parallelism <= 0) and the fold happens
// once all of them are done.
func Run(ctx context.Context, stages []Stage, parallelism int) ([]index.Candidate, error) {
	if parallelism == 1 {
		return runSequential(ctx, stages)
	}

	results, err := Collect(ctx, stages, parallelism)
	if err != nil {
		return nil, err
	}
	return Fold(results), nil
}

func runSequential(ctx context.Context, stages []Stage) ([]index.Candidate, error) {
	var running []index.Candidate
	for i, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := s.Run(ctx)
		if err != nil {
			return nil, &Error{Stage: i, Name: s.Name, Err: err}
		}
		if i == 0 {
			running = c
		} else {
			running = intersect(c, running)
		}
		if len(running) == 0 {
			break
		}
	}
	return finish(running), nil
}

// Collect evaluates all stages concurrently and returns their candidate
// sets in stage order.
func Collect(ctx context.Context, stages []Stage, parallelism int) ([][]index.Candidate, error) {
	results := make([][]index.Candidate, len(stages))

	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, s := range stages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := s.Run(gctx)
			if err != nil {
				return &Error{Stage: i, Name: s.Name, Err: err}
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fold intersects per-stage candidate sets by ID in order. Surviving items
// carry the distance of the last stage.
func Fold(results [][]index.Candidate) []index.Candidate {
	var running []index.Candidate
	for i, c := range results {
		if i == 0 {
			running = c
			continue
		}
		running = intersect(c, running)
	}
	return finish(running)
}

// intersect keeps the members of current that also appear in previous,
// with current's distances.
func intersect(current, previous []index.Candidate) []index.Candidate {
	if len(current) == 0 || len(previous) == 0 {
		return nil
	}
	members := make(map[string]struct{}, len(previous))
	for _, c := range previous {
		members[c.ID] = struct{}{}
	}
	out := make([]index.Candidate, 0, min(len(current), len(previous)))
	for _, c := range current {
		if _, ok := members[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func finish(c []index.Candidate) []index.Candidate {
	out := make([]index.Candidate, len(c))
	copy(out, c)
	index.SortCandidates(out)
	return out
}

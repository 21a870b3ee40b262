package ingest

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"golang.org/x/sync/errgroup"

	"camtiles/internal/corpus"
)

// Run loads every source concurrently, bounded by workers, and lays
// the combined result out into one corpus.Corpus. Per-file reads are
// independent and write into disjoint slots of a pre-sized slice, so
// the merge step needs no locking — only the final corpus.Build pass
// is serial. Progress is reported as one tick per finished source
// against a pb.v1 bar.
//
// A source that fails to read is logged and skipped rather than
// aborting the run; only a cancelled ctx or a genuine accounting
// mismatch surfaced by corpus.Build fails the whole ingest.
func Run(ctx context.Context, sources []Source, workers int) (*corpus.Corpus, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([][][]corpus.Vertex, len(sources))

	bar := pb.New64(int64(len(sources))).Prefix("Ingest : ")
	bar.Start()
	defer bar.FinishPrint(fmt.Sprintf("ingested %d sources", len(sources)))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := src.Read()
			if err != nil {
				log.WithError(err).WithField("source", src.Path).Warn("ingest: skipping unreadable source")
				bar.Increment()
				return nil
			}
			results[i] = records
			bar.Increment()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all [][]corpus.Vertex
	for _, r := range results {
		all = append(all, r...)
	}

	return corpus.Build(all)
}

// Package imgmatch finds similar images by comparing perceptual hashes.
//
// A Matcher holds an ordered pipeline of hashing algorithms. Every algorithm
// owns an index of the hashes of all images added while it was part of the
// pipeline. A query image is hashed under each algorithm, each index returns
// the images within that stage's threshold, and only images returned by
// every stage survive. Results are ordered by the distance reported by the
// last stage.
//
// # Quick Start
//
//	ctx := context.Background()
//	m, _ := imgmatch.NewDefault()
//	defer m.Close()
//
//	_ = m.AddImage(ctx, "cat.png", catImg)
//	_ = m.AddImage(ctx, "dog.png", dogImg)
//
//	matches, _ := m.Match(ctx, queryImg)
//	for _, c := range matches {
//	    fmt.Println(c.ID, c.Distance)
//	}
//
// # Custom Pipelines
//
// Stages are added in execution order. Thresholds are either a fraction of
// the algorithm's bit resolution or an absolute number of differing bits:
//
//	m := imgmatch.New(imgmatch.WithIndexFactory(flat.Factory))
//	ahash, _ := algorithm.NewAverage(8)
//	phash, _ := algorithm.NewPerceptual(16)
//	_ = m.AddAlgorithm(ahash, pipeline.Normalized(0.2))
//	_ = m.AddAlgorithm(phash, pipeline.Absolute(40))
//
// Removing an algorithm keeps its index, so adding it back later restores its
// earlier results.
//
// # Presets
//
// NewPreset builds a two-stage pipeline (difference hash, then perceptual
// hash) tuned by a Setting: Forgiving, Fair, Quality (default) or Strict.
//
// # Persistence
//
// Save and Load write versioned snapshots to any blobstore.BlobStore (memory,
// local filesystem, S3, MinIO). SaveFile and LoadFile use a single file:
//
//	_ = m.SaveFile(ctx, "matcher.snap")
//	m2, _ := imgmatch.LoadFile(ctx, "matcher.snap")
//
// # Index Implementations
//
//   - index/bktree: BK-tree over hamming distance (default)
//   - index/flat: brute force scan
//   - index/sqlindex: SQLite table with a hamming_distance SQL function
package imgmatch

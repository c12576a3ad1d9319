package workload

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/zeebo/blake3"
)

const workDir = "/work"

// Job is one file created, written, read back and removed by the [Runner].
type Job struct {
	ID     int
	FS     int
	Offset int64
	Size   int

	seed uint64
}

// newJobs returns the jobs described by cfg. The same configuration always
// yields the same jobs.
func newJobs(cfg Config) []*Job {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(cfg.Jobs))) //nolint:gosec

	jobs := make([]*Job, 0, cfg.Jobs)
	for i := range cfg.Jobs {
		jobs = append(jobs, &Job{
			ID:     i,
			FS:     i % cfg.Filesystems,
			Offset: rng.Int64N(cfg.MaxOffset + 1),
			Size:   1 + rng.IntN(cfg.MaxPayload),
			seed:   cfg.Seed,
		})
	}

	return jobs
}

// Dir returns the mount point the job works in.
func (j *Job) Dir() string {
	return fmt.Sprintf("%s/fs-%d", workDir, j.FS)
}

// Path returns the file the job works on.
func (j *Job) Path() string {
	return fmt.Sprintf("%s/job-%d", j.Dir(), j.ID)
}

// Payload returns the bytes the job writes, expanded from the seed and the
// job identifier with the BLAKE3 extendable output.
func (j *Job) Payload() []byte {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[:8], j.seed)
	binary.LittleEndian.PutUint64(key[8:], uint64(j.ID)) //nolint:gosec

	hasher := blake3.New()
	hasher.Write(key[:]) //nolint:errcheck

	out := make([]byte, j.Size)
	hasher.Digest().Read(out) //nolint:errcheck

	return out
}

// FileDigest returns the BLAKE3 sum of the whole file the job produces: a
// hole of Offset zero bytes followed by the payload.
func (j *Job) FileDigest() []byte {
	hasher := blake3.New()
	hasher.Write(make([]byte, j.Offset)) //nolint:errcheck
	hasher.Write(j.Payload())            //nolint:errcheck

	return hasher.Sum(nil)
}

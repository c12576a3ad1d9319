// Package workload drives the core with concurrent file jobs and verifies
// that every byte read back is the byte written.
package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"
	"github.com/zhoujie-jay/kcore/internal/ioctx"
	"github.com/zhoujie-jay/kcore/internal/kernel"
	"github.com/zhoujie-jay/kcore/internal/queue"
	"golang.org/x/sys/unix"
)

// bufferBase is the address of the simulated caller buffer of every job.
const bufferBase = 0x1000

// Config describes a workload.
type Config struct {
	// Jobs is the number of files to exercise.
	Jobs int

	// Workers is the number of jobs run at once on each filesystem.
	Workers int

	// Filesystems is the number of filesystems mounted under /work that the
	// jobs are spread over.
	Filesystems int

	// MaxPayload is the largest payload of a job in bytes.
	MaxPayload int

	// MaxOffset is the largest offset a payload is written at.
	MaxOffset int64

	// Seed makes payloads and offsets reproducible.
	Seed uint64
}

// DefaultConfig returns the [Config] used when nothing else is given.
//
//nolint:mnd
func DefaultConfig() Config {
	return Config{
		Jobs:        64,
		Workers:     4,
		Filesystems: 2,
		MaxPayload:  256 * humanize.KiByte,
		MaxOffset:   64 * humanize.KiByte,
		Seed:        1,
	}
}

// Validate checks the limits of the [Config].
func (c Config) Validate() error {
	switch {
	case c.Jobs < 0:
		return fmt.Errorf("(workload-config) %d: %w", c.Jobs, ErrInvalidJobs)
	case c.Workers < 1:
		return fmt.Errorf("(workload-config) %d: %w", c.Workers, ErrInvalidWorkers)
	case c.Filesystems < 1:
		return fmt.Errorf("(workload-config) %d: %w", c.Filesystems, ErrInvalidFilesystems)
	case c.MaxPayload < 1 || c.MaxOffset < 0:
		return fmt.Errorf("(workload-config) %d@%d: %w", c.MaxPayload, c.MaxOffset, ErrInvalidPayload)
	}

	return nil
}

// Result is the outcome of [Runner.Run].
type Result struct {
	Succeeded int
	Failed    int
	Bytes     uint64
	Elapsed   time.Duration
}

type jobManager = queue.GenericManager[int, *Job, *queue.GenericQueue[*Job]]

// Runner runs a workload against a booted kernel. Jobs are bucketed by
// filesystem, one queue each, and every queue is processed concurrently.
type Runner struct {
	kernel  *kernel.Kernel
	cfg     Config
	manager *jobManager
}

// NewRunner returns a pointer to a new [Runner] for k.
func NewRunner(k *kernel.Kernel, cfg Config) *Runner {
	return &Runner{
		kernel:  k,
		cfg:     cfg,
		manager: queue.NewGenericManager[int, *Job, *queue.GenericQueue[*Job]](),
	}
}

// Progress returns the combined progress of every job queue.
func (r *Runner) Progress() queue.Progress {
	return r.manager.Progress()
}

// Failed returns the jobs that failed so far.
func (r *Runner) Failed() []*Job {
	return r.manager.GetFailed()
}

// Run mounts the filesystems, processes every job and unmounts them again. A
// failed job does not stop the others; [ErrJobsFailed] is returned at the end.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("(workload-run) %w", err)
	}

	start := time.Now()

	p := r.kernel.NewProcess(ioctx.Root())
	defer p.Exit()

	kctx := p.Context(ctx, nil)

	mounted, err := r.mount(kctx, p)
	defer r.unmount(kctx, p, mounted)

	if err != nil {
		return Result{}, fmt.Errorf("(workload-run) %w", err)
	}

	for _, job := range newJobs(r.cfg) {
		r.manager.Enqueue(job, func(j *Job) int { return j.FS }, queue.NewGenericQueue[*Job])
	}

	slog.Info("Workload started",
		"jobs", r.cfg.Jobs,
		"filesystems", r.cfg.Filesystems,
		"workers", r.cfg.Workers,
	)

	var wg sync.WaitGroup
	errs := make(chan error, r.cfg.Filesystems)

	for _, q := range r.manager.GetQueues() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := q.DequeueAndProcessConc(ctx, r.cfg.Workers, func(job *Job) int {
				return r.process(ctx, p, q, job)
			}); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	progress := r.manager.Progress()
	res := Result{
		Succeeded: progress.SuccessItems,
		Failed:    progress.FailedItems,
		Bytes:     progress.Bytes,
		Elapsed:   time.Since(start),
	}

	if err := <-errs; err != nil {
		return res, fmt.Errorf("(workload-run) %w", err)
	}

	slog.Info("Workload finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"moved", humanize.IBytes(res.Bytes),
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)

	if res.Failed > 0 {
		return res, fmt.Errorf("(workload-run) %d of %d: %w", res.Failed, r.cfg.Jobs, ErrJobsFailed)
	}

	return res, nil
}

// mount creates /work/fs-<n> and mounts a new filesystem on each. It returns
// the mount points set up so far, also on failure.
func (r *Runner) mount(kctx *ioctx.Context, p *kernel.Process) ([]string, error) {
	if err := p.Mkdir(kctx, workDir, 0o755); err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, err
	}

	var mounted []string

	for i := range r.cfg.Filesystems {
		dir := (&Job{FS: i}).Dir()

		if err := p.Mkdir(kctx, dir, 0o755); err != nil && !errors.Is(err, unix.EEXIST) {
			return mounted, err
		}

		root := r.kernel.NewFS(ioctx.Root()).Root()
		err := p.Mount(kctx, dir, root)
		root.DecRef()

		if err != nil {
			return mounted, err
		}
		mounted = append(mounted, dir)
	}

	return mounted, nil
}

func (r *Runner) unmount(kctx *ioctx.Context, p *kernel.Process, mounted []string) {
	for _, dir := range mounted {
		if err := p.Unmount(kctx, dir); err != nil {
			slog.Warn("Failed to unmount workload filesystem",
				"path", dir,
				"err", err,
			)
		}
	}
}

// process runs job and reports the decision for its queue.
func (r *Runner) process(ctx context.Context, parent *kernel.Process, q *queue.GenericQueue[*Job], job *Job) int {
	if err := execute(ctx, parent, job); err != nil {
		slog.Warn("Job failed",
			"job", job.ID,
			"path", job.Path(),
			"err", err,
		)

		return queue.DecisionFailed
	}

	q.AddBytes(2 * uint64(job.Size)) //nolint:gosec

	return queue.DecisionSuccess
}

// execute forks parent, writes the payload of job into a new file, reads it
// back, checks both digests, execs and removes the file.
func execute(ctx context.Context, parent *kernel.Process, job *Job) error {
	child, err := parent.Fork()
	if err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}
	defer child.Exit()

	payload := job.Payload()

	mem := make([]byte, 2*job.Size)
	copy(mem, payload)

	buf := ioctx.NewUserBufferFrom(bufferBase, mem)
	kctx := child.Context(ctx, buf)
	readBase := uintptr(bufferBase + job.Size)

	fd, err := child.Open(kctx, job.Path(), unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	n, err := child.PWrite(kctx, fd, bufferBase, job.Size, job.Offset)
	if err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}
	if n != job.Size {
		return fmt.Errorf("(workload-job) wrote %d of %d: %w", n, job.Size, ErrShortTransfer)
	}

	if err := child.Fsync(kctx, fd); err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	if _, err := child.Lseek(kctx, fd, job.Offset, unix.SEEK_SET); err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	if err := readFull(kctx, child, fd, readBase, job.Size); err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	srcHasher := blake3.New()
	dstHasher := blake3.New()

	srcHasher.Write(payload)                 //nolint:errcheck
	dstHasher.Write(buf.Bytes()[job.Size:]) //nolint:errcheck

	srcChecksum := fmt.Sprintf("%x", srcHasher.Sum(nil))
	dstChecksum := fmt.Sprintf("%x", dstHasher.Sum(nil))

	if srcChecksum != dstChecksum {
		return fmt.Errorf("(workload-job) %s (src) != %s (dst): %w", srcChecksum, dstChecksum, ErrIntegrity)
	}

	if err := verifyFile(kctx, child, job); err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	child.Execute()

	if _, err := child.GetFDFlags(fd); !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("(workload-job) fd %d: %w", fd, ErrDescriptorLeaked)
	}

	if err := child.Unlink(kctx, job.Path()); err != nil {
		return fmt.Errorf("(workload-job) %w", err)
	}

	return nil
}

func readFull(kctx *ioctx.Context, p *kernel.Process, fd int, dst uintptr, count int) error {
	for done := 0; done < count; {
		n, err := p.Read(kctx, fd, dst+uintptr(done), count-done)
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("read %d of %d: %w", done, count, ErrShortTransfer)
		}
		done += n
	}

	return nil
}

// digester is implemented by files that can sum their own content.
type digester interface {
	Digest() []byte
}

// verifyFile checks the size of the file of job and, when the file can sum
// itself, its whole content including the hole before the payload.
func verifyFile(kctx *ioctx.Context, p *kernel.Process, job *Job) error {
	v, err := p.Resolve(kctx, job.Path())
	if err != nil {
		return err
	}
	defer v.DecRef()

	st, err := v.Stat(kctx)
	if err != nil {
		return err
	}

	if want := job.Offset + int64(job.Size); st.Size != want {
		return fmt.Errorf("size %d, want %d: %w", st.Size, want, ErrShortTransfer)
	}

	d, ok := v.Inode().(digester)
	if !ok {
		return nil
	}

	if !bytes.Equal(d.Digest(), job.FileDigest()) {
		return fmt.Errorf("file digest of %s: %w", job.Path(), ErrIntegrity)
	}

	return nil
}

// Package planner implements the guarded deletion planner (§4.7): staging
// a set of relative paths for removal, then moving them into a per-day
// quarantine directory only after a single-use token is presented and a
// drift check confirms nothing has changed since planning.
//
// The quarantine move adapts the teacher's link/symlink-then-rename
// pattern (internal/deduper) to a plain os.Rename: on a single filesystem
// the rename is already atomic, so there is no EEXIST collision window to
// guard against the way the teacher's hardlink step had. Crossing onto a
// different filesystem (EXDEV) falls back to a recursive copy-then-remove,
// which is no longer atomic but is the only way to relocate the data.
package planner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/foldersim/simcore/internal/pathnorm"
	"github.com/foldersim/simcore/internal/store"
	"github.com/foldersim/simcore/internal/types"
)

const planTTL = 15 * time.Minute

// ErrCanonical is returned when a plan request names a group's canonical
// member — canonical folders may never be planned for deletion (§4.7).
var ErrCanonical = fmt.Errorf("cannot_plan_canonical")

// ErrNotInIndex is returned when a planned path is absent from the scan's
// folder index.
var ErrNotInIndex = fmt.Errorf("not_in_folder_index")

// ErrTokenInvalid is returned when a confirm token does not match the plan.
var ErrTokenInvalid = fmt.Errorf("token_invalid")

// ErrTokenExpired is returned when a confirm arrives after expires_at, or
// after the token has already been consumed.
var ErrTokenExpired = fmt.Errorf("token_expired")

// ErrDrift is returned when a queued path's on-disk (size, mtime) no
// longer matches the fingerprint recorded at plan time.
var ErrDrift = fmt.Errorf("drift_detected")

// Planner creates and confirms DeletionPlans against a single scan's
// folder index and root.
type Planner struct {
	norm *pathnorm.Normalizer
	st   *store.Store

	mu    sync.Mutex
	plans map[string]*trackedPlan
}

type trackedPlan struct {
	plan     types.DeletionPlan
	consumed bool
}

// New creates a Planner for one scan's root and folder index.
func New(norm *pathnorm.Normalizer, st *store.Store) *Planner {
	return &Planner{norm: norm, st: st, plans: make(map[string]*trackedPlan)}
}

// Register re-attaches an externally persisted DeletionPlan (created by an
// earlier Planner, possibly in another process) so it can be confirmed.
// Expiry and single-use are still enforced from the plan's own fields.
func (p *Planner) Register(plan types.DeletionPlan) {
	p.mu.Lock()
	p.plans[plan.PlanID] = &trackedPlan{plan: plan}
	p.mu.Unlock()
}

// CanonicalSet is the set of relative paths that are any group's canonical
// member, supplied by the caller (scheduler/CLI) from the scan's report.
type CanonicalSet map[string]bool

// CanonicalSetFromGroups builds a CanonicalSet from a scan report's groups.
func CanonicalSetFromGroups(groups []types.GroupInfo) CanonicalSet {
	set := make(CanonicalSet, len(groups))
	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		set[g.Members[g.CanonicalIndex].RelativePath] = true
	}
	return set
}

// Create validates relativePaths and stages a DeletionPlan (§4.7 "Plan
// creation"). No filesystem mutation happens here.
func (p *Planner) Create(scanID string, relativePaths []string, canonical CanonicalSet) (*types.DeletionPlan, error) {
	seen := make(map[string]bool, len(relativePaths))
	var queue []string
	var reclaimable int64

	for _, rel := range relativePaths {
		normalized := pathnorm.NFC(path.Clean(rel))
		if seen[normalized] {
			continue
		}
		seen[normalized] = true

		if canonical[normalized] {
			return nil, fmt.Errorf("%w: %s", ErrCanonical, normalized)
		}

		full := filepath.Join(p.norm.Root(), filepath.FromSlash(normalized))
		if _, err := p.norm.Confine(full); err != nil {
			return nil, fmt.Errorf("%w: %s", err, normalized)
		}

		info, found, err := p.st.Get(normalized)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNotInIndex, normalized)
		}

		queue = append(queue, normalized)
		reclaimable += info.TotalBytes
	}

	now := time.Now()
	plan := types.DeletionPlan{
		PlanID:           uuid.NewString(),
		ScanID:           scanID,
		Token:            uuid.NewString(),
		CreatedAt:        now,
		ExpiresAt:        now.Add(planTTL),
		Queue:            queue,
		ReclaimableBytes: reclaimable,
		Root:             p.norm.Root(),
		QuarantineRoot:   filepath.Join(p.norm.Root(), ".quarantine", now.Format("20060102")),
	}

	p.mu.Lock()
	p.plans[plan.PlanID] = &trackedPlan{plan: plan}
	p.mu.Unlock()

	return &plan, nil
}

// Confirm applies a previously created plan (§4.7 "Confirmation"). Before
// any move, every queued path is re-stat'd against its stored fingerprint;
// any drift aborts the whole confirm with no moves performed.
func (p *Planner) Confirm(planID, token string) (*types.DeletionResult, error) {
	p.mu.Lock()
	tracked, ok := p.plans[planID]
	if !ok {
		p.mu.Unlock()
		return nil, ErrTokenInvalid
	}
	if tracked.consumed || time.Now().After(tracked.plan.ExpiresAt) {
		p.mu.Unlock()
		return nil, ErrTokenExpired
	}
	if tracked.plan.Token != token {
		p.mu.Unlock()
		return nil, ErrTokenInvalid
	}
	tracked.consumed = true
	plan := tracked.plan
	p.mu.Unlock()

	if err := p.checkDrift(plan.Queue); err != nil {
		return nil, err
	}

	result := &types.DeletionResult{PlanID: planID, Root: plan.Root, QuarantineRoot: plan.QuarantineRoot}
	var failures *multierror.Error

	for _, rel := range plan.Queue {
		info, found, err := p.st.Get(rel)
		if err != nil || !found {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", rel, ErrNotInIndex))
			result.FailedPaths = append(result.FailedPaths, rel)
			continue
		}

		source := filepath.Join(plan.Root, filepath.FromSlash(rel))
		dest, err := p.reserveQuarantinePath(plan.QuarantineRoot, rel)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", rel, err))
			result.FailedPaths = append(result.FailedPaths, rel)
			continue
		}

		if err := moveAtomic(source, dest); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", rel, err))
			result.FailedPaths = append(result.FailedPaths, rel)
			continue
		}

		result.MovedCount++
		result.BytesMoved += info.TotalBytes
	}

	if failures != nil {
		return result, failures.ErrorOrNil()
	}
	return result, nil
}

// checkDrift re-stats each queued folder's stored representative file and
// compares its (size, mtime) against what the scan recorded (§4.7: "re-stat
// the target and compare (size, mtime) of at least one representative
// file"). A folder with no files anywhere beneath it has no representative
// and is skipped — there is nothing for it to have drifted.
func (p *Planner) checkDrift(queue []string) error {
	for _, rel := range queue {
		info, found, err := p.st.Get(rel)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s missing from index", ErrDrift, rel)
		}
		if info.RepresentativePath == "" {
			continue
		}

		full := filepath.Join(p.norm.Root(), filepath.FromSlash(info.RepresentativePath))
		stat, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDrift, rel, err)
		}
		if stat.Size() != info.RepresentativeSize || !stat.ModTime().Equal(info.RepresentativeMTime) {
			return fmt.Errorf("%w: %s", ErrDrift, rel)
		}
	}
	return nil
}

// reserveQuarantinePath computes the destination for rel under
// quarantineRoot, appending ".N" with the smallest N that makes the name
// free (§4.7 "name collision").
func (p *Planner) reserveQuarantinePath(quarantineRoot, rel string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(filepath.Join(quarantineRoot, filepath.FromSlash(rel))), 0o755); err != nil {
		return "", err
	}

	base := filepath.Join(quarantineRoot, filepath.FromSlash(rel))
	candidate := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s.%d", base, n)
	}
}

// moveAtomic renames source to dest. os.Rename is atomic and
// rename-equivalent when both paths share a filesystem, which covers the
// common case of a quarantine day-directory living under the scan root.
// It fails with EXDEV when the destination crosses onto a different
// filesystem (e.g. the root and its .quarantine directory are separate
// mounts); in that case this falls back to a recursive copy followed by
// a source removal, which is no longer atomic but is the only way to
// relocate data across devices.
func moveAtomic(source, dest string) error {
	err := os.Rename(source, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if cerr := copyTree(source, dest); cerr != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("cross-device copy %s -> %s: %w", source, dest, cerr)
	}
	if rerr := os.RemoveAll(source); rerr != nil {
		return fmt.Errorf("remove source %s after cross-device copy: %w", source, rerr)
	}
	return nil
}

// copyTree recursively copies source to dest, preserving file modes,
// directory structure, and symlinks verbatim (never following them —
// the scan never hashes through a symlink, and a move must not either).
func copyTree(source, dest string) error {
	return filepath.Walk(source, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			return copyFile(p, target, info.Mode().Perm())
		}
	})
}

// copyFile copies a single regular file's contents and mode.
func copyFile(source, dest string, mode os.FileMode) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

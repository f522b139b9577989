package service

import (
	"context"

	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/impact"
)

// buildState loads a build with its coverage.
func (e *Engine) buildState(ctx context.Context, key diff.BuildKey, ordinal int) (impact.BuildState, error) {
	snap, err := e.snapshot(ctx, key)
	if err != nil {
		return impact.BuildState{}, err
	}
	b, err := e.Coverage(ctx, key)
	if err != nil {
		return impact.BuildState{}, err
	}
	return impact.BuildState{Snapshot: snap, Bundle: b, Ordinal: ordinal}, nil
}

// history loads target and every build ordered before it. Ordinals follow
// storage's version order: the oldest build is 0 and the target is last.
func (e *Engine) history(ctx context.Context, target diff.BuildKey) (impact.BuildState, []impact.BuildState, error) {
	if _, err := e.snapshot(ctx, target); err != nil {
		return impact.BuildState{}, nil, err
	}
	versions, err := e.store.LoadPriorBuildVersions(ctx, target.GroupID, target.AppID, target.Version)
	if err != nil {
		return impact.BuildState{}, nil, storageErr("load prior builds", err)
	}

	states := make([]impact.BuildState, 0, len(versions))
	for i, v := range versions {
		s, err := e.buildState(ctx, target.WithVersion(v), i)
		if err != nil {
			return impact.BuildState{}, nil, err
		}
		states = append(states, s)
	}
	t, err := e.buildState(ctx, target, len(versions))
	if err != nil {
		return impact.BuildState{}, nil, err
	}
	return t, states, nil
}

// findBaseline picks the baseline out of the history. A baseline that is not
// a stored prior build, or has no methods, is UNKNOWN_BASELINE.
func findBaseline(history []impact.BuildState, baseline diff.BuildKey) (impact.BuildState, error) {
	for _, s := range history {
		if s.Version() == baseline.Version {
			if len(s.Snapshot.Methods) == 0 {
				break
			}
			return s, nil
		}
	}
	return impact.BuildState{}, cerrors.Newf(cerrors.UnknownBaseline, "baseline %s is not a recorded build before the target", baseline)
}

func sameApp(target, baseline diff.BuildKey) error {
	if target.GroupID != baseline.GroupID || target.AppID != baseline.AppID {
		return cerrors.Newf(cerrors.InvalidArgument, "baseline %s belongs to another application than %s", baseline, target)
	}
	return nil
}

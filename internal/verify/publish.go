package verify

import (
	"context"
	"fmt"

	"github.com/freedevtools/fdtdb/internal/common"
	dbpkg "github.com/freedevtools/fdtdb/pkg/db"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	verifypkg "github.com/freedevtools/fdtdb/pkg/verify"
)

// CheckPublishable refuses generation n of d unless it is complete, at the
// domain's schema version, matches the declared layout and verifies.
func CheckPublishable(ctx context.Context, env *common.Env, d schema.Domain, n int) error {
	name := storage.FileName(d.Name, n)
	if env.Store.IsIncomplete(name) {
		return fmt.Errorf("%w: %s", storage.ErrIncomplete, name)
	}
	if err := env.Store.CheckClean(name); err != nil {
		return err
	}
	db, err := dbpkg.OpenReadOnly(env.Store.Path(name))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	v, err := db.UserVersion(ctx)
	if err != nil {
		return err
	}
	if v < d.Version {
		return fmt.Errorf("%w: %s is at schema version %d, %s needs %d; run migrate first",
			verifypkg.ErrVerificationFailed, name, v, d.Name, d.Version)
	}

	f, err := Inspect(ctx, db, d)
	if err != nil {
		return err
	}
	if f.Layout != "" {
		return fmt.Errorf("%w: %s: %s", verifypkg.ErrVerificationFailed, name, f.Layout)
	}
	if !f.OK() {
		return fmt.Errorf("%w: %s has %d mismatched keys and %d drifted aggregates; run verify",
			verifypkg.ErrVerificationFailed, name, f.Mismatches(), len(f.Drift))
	}
	return nil
}

package physicallog

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OnReplaceAliasLogs promotes the stream already bound to sourceAlias into
// primaryAlias, demoting the stream currently bound to primaryAlias to
// backupAlias and discarding whatever stream backupAlias previously pointed
// at. This mirrors the original's OnReplaceAliasLogsAsync: sourceAlias must
// already be bound to the replacement stream by an earlier AssignAlias call
// before this is invoked -- the rotation only ever resolves pre-existing
// aliases, it never mints one of its own. Each step is a container call
// that can be replayed from the beginning if a crash lands between them —
// see OnRecoverAliasLogs.
func (pl *PhysicalLog) OnReplaceAliasLogs(ctx context.Context, sourceAlias, primaryAlias, backupAlias string) error {
	oldPrimaryID, hadPrimary, err := pl.container.ResolveAlias(ctx, primaryAlias)
	if err != nil {
		return errors.Wrap(err, "physicallog: resolve primary alias failed")
	}
	if !hadPrimary {
		return errors.Errorf("physicallog: primary alias %q is not bound", primaryAlias)
	}

	newStreamID, hadSource, err := pl.container.ResolveAlias(ctx, sourceAlias)
	if err != nil {
		return errors.Wrap(err, "physicallog: resolve source alias failed")
	}
	if !hadSource {
		return errors.Errorf("physicallog: source alias %q is not bound", sourceAlias)
	}

	oldBackupID, hadBackup, err := pl.container.ResolveAlias(ctx, backupAlias)
	if err != nil {
		return errors.Wrap(err, "physicallog: resolve backup alias failed")
	}

	if hadBackup && oldBackupID != oldPrimaryID {
		if err := pl.container.DeleteStream(ctx, oldBackupID); err != nil {
			return errors.Wrap(err, "physicallog: delete superseded backup stream failed")
		}
	}

	if err := pl.container.AssignAlias(ctx, backupAlias, oldPrimaryID); err != nil {
		return errors.Wrap(err, "physicallog: demote primary to backup failed")
	}
	if err := pl.container.AssignAlias(ctx, primaryAlias, newStreamID); err != nil {
		return errors.Wrap(err, "physicallog: promote new stream to primary failed")
	}
	return nil
}

// OnRecoverAliasLogs resolves primaryAlias after a possible crash mid-
// rotation. If primaryAlias is bound, that is the current log. If it is
// missing, this promotes the stream bound to backupAlias to primaryAlias,
// removes backupAlias, and returns the promoted stream id. OnReplaceAliasLogs
// itself rebinds primaryAlias in place and never leaves it unbound.
func (pl *PhysicalLog) OnRecoverAliasLogs(ctx context.Context, primaryAlias, backupAlias string) (uuid.UUID, error) {
	id, ok, err := pl.container.ResolveAlias(ctx, primaryAlias)
	if err != nil {
		return uuid.UUID{}, errors.Wrap(err, "physicallog: resolve primary alias failed")
	}
	if ok {
		return id, nil
	}

	backupID, ok, err := pl.container.ResolveAlias(ctx, backupAlias)
	if err != nil {
		return uuid.UUID{}, errors.Wrap(err, "physicallog: resolve backup alias failed")
	}
	if !ok {
		return uuid.UUID{}, errors.Errorf("physicallog: neither %q nor %q alias is bound", primaryAlias, backupAlias)
	}
	if err := pl.container.AssignAlias(ctx, primaryAlias, backupID); err != nil {
		return uuid.UUID{}, errors.Wrap(err, "physicallog: promote backup alias failed")
	}
	if err := pl.container.RemoveAlias(ctx, backupAlias); err != nil {
		return uuid.UUID{}, errors.Wrap(err, "physicallog: remove promoted backup alias failed")
	}
	return backupID, nil
}

package inproc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/container"
)

// ErrAliasNotFound is returned by ResolveAlias when no stream is bound to
// the requested alias.
var ErrAliasNotFound = errors.New("inproc: alias not found")

const aliasFileName = "aliases.tsv"

// containerBinding is the in-process Container implementation: one
// directory holds every stream's (data, index) file pair plus a flat alias
// table file.
type containerBinding struct {
	mu      sync.Mutex
	dir     string
	aliases map[string]uuid.UUID
}

// Open opens (creating if necessary) an in-process container rooted at
// dir. There is exactly one containerBinding per physical log, matching
// PhysicalLog's "owns one open physical container" contract (spec.md §3).
func Open(dir string) (container.Container, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "inproc: create container directory failed")
	}
	c := &containerBinding{dir: dir, aliases: make(map[string]uuid.UUID)}
	if err := c.loadAliases(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *containerBinding) aliasPath() string { return filepath.Join(c.dir, aliasFileName) }

func (c *containerBinding) loadAliases() error {
	f, err := os.Open(c.aliasPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "inproc: open alias table failed")
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var name, idStr string
		if _, err := fmt.Sscanf(scanner.Text(), "%s\t%s", &name, &idStr); err != nil {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		c.aliases[name] = id
	}
	return scanner.Err()
}

func (c *containerBinding) saveAliasesLocked() error {
	f, err := os.Create(c.aliasPath())
	if err != nil {
		return errors.Wrap(err, "inproc: write alias table failed")
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for name, id := range c.aliases {
		fmt.Fprintf(w, "%s\t%s\n", name, id.String())
	}
	return w.Flush()
}

func (c *containerBinding) CreateStream(_ context.Context, streamID uuid.UUID, alias string, maxSize int64, maxBlockSize uint32) (container.Stream, error) {
	s, err := createStream(c.dir, streamID, maxSize)
	if err != nil {
		return nil, err
	}
	if alias != "" {
		c.mu.Lock()
		c.aliases[alias] = streamID
		err := c.saveAliasesLocked()
		c.mu.Unlock()
		if err != nil {
			s.delete()
			return nil, err
		}
	}
	return s, nil
}

func (c *containerBinding) OpenStream(_ context.Context, streamID uuid.UUID) (container.Stream, error) {
	return openStream(c.dir, streamID, 0)
}

func (c *containerBinding) DeleteStream(_ context.Context, streamID uuid.UUID) error {
	s, err := openStream(c.dir, streamID, 0)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.delete()
}

func (c *containerBinding) EnumerateStreams(_ context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, errors.Wrap(err, "inproc: read container directory failed")
	}
	var ids []uuid.UUID
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, dataSuffix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, dataSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *containerBinding) AssignAlias(_ context.Context, alias string, streamID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[alias] = streamID
	return c.saveAliasesLocked()
}

func (c *containerBinding) ResolveAlias(_ context.Context, alias string) (uuid.UUID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.aliases[alias]
	return id, ok, nil
}

func (c *containerBinding) RemoveAlias(_ context.Context, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.aliases, alias)
	return c.saveAliasesLocked()
}

func (c *containerBinding) QueryCurrentBuildInformation(_ context.Context) (container.BuildInformation, error) {
	return container.BuildInformation{BuildNumber: 1, IsFreeBuild: true}, nil
}

func (c *containerBinding) QueryCurrentLogUsageInformation(_ context.Context) (container.LogUsageInformation, error) {
	return container.LogUsageInformation{PercentageLogUsage: 0}, nil
}

func (c *containerBinding) QueryLogSizeAndSpaceRemaining(_ context.Context) (container.SizeInformation, error) {
	var total int64
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return container.SizeInformation{}, errors.Wrap(err, "inproc: read container directory failed")
	}
	for _, e := range entries {
		info, err := e.Info()
		if err == nil {
			total += info.Size()
		}
	}
	return container.SizeInformation{LogSize: total, SpaceRemaining: 0}, nil
}

func (c *containerBinding) Close() error { return nil }

func (c *containerBinding) Delete(_ context.Context) error {
	if err := os.RemoveAll(c.dir); err != nil {
		return errors.Wrap(err, "inproc: remove container directory failed")
	}
	return nil
}

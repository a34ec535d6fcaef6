// Package xenstore resolves guest domain ids and names by walking the
// hypervisor's configuration store the way Xen's own client tools do:
// read_directory to enumerate a path's children, then a per-domain "name"
// key lookup. The real store transport (a Xen-specific IPC channel) is an
// external collaborator, so this package depends only on a
// DirectoryReader interface; native process enumeration in delve's
// pkg/proc/native/proc_linux.go (regex-scanning a pseudo filesystem) is
// the closest teacher analog for "enumerate identifiers by reading a
// directory-shaped external source".
package xenstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openxen/xendbg/pkg/xlogflags"
)

var log = xlogflags.XenstoreLogger()

// DirectoryReader is the store transport boundary: ReadDirectory lists the
// entries under a path, ReadKey reads the value of one key. The real
// implementation is a XenStore client; tests use an in-memory fake.
type DirectoryReader interface {
	ReadDirectory(path string) ([]string, error)
	ReadKey(path string) (string, error)
}

const domainDirectory = "/local/domain"

// ListDomainIDs enumerates live guest domain ids by reading the store
// directory.
func ListDomainIDs(store DirectoryReader) ([]int, error) {
	entries, err := store.ReadDirectory(domainDirectory)
	if err != nil {
		return nil, fmt.Errorf("xenstore: list domains: %w", err)
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		id, err := strconv.Atoi(strings.TrimSpace(e))
		if err != nil {
			log.WithField("entry", e).Warn("skipping non-numeric domain directory entry")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ResolveDomainName resolves a domain name to its id by scanning every
// live domain's "name" key.
func ResolveDomainName(store DirectoryReader, name string) (int, error) {
	ids, err := ListDomainIDs(store)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		candidate, err := store.ReadKey(fmt.Sprintf("%s/%d/name", domainDirectory, id))
		if err != nil {
			continue
		}
		if candidate == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("xenstore: domain %q not found", name)
}

// FakeStore is an in-memory DirectoryReader used by tests, since the real
// store transport is out of scope for this module.
type FakeStore struct {
	Names map[int]string
}

func (f *FakeStore) ReadDirectory(path string) ([]string, error) {
	if path != domainDirectory {
		return nil, fmt.Errorf("fake store: no directory %q", path)
	}
	out := make([]string, 0, len(f.Names))
	for id := range f.Names {
		out = append(out, strconv.Itoa(id))
	}
	return out, nil
}

func (f *FakeStore) ReadKey(path string) (string, error) {
	prefix := domainDirectory + "/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, "/name") {
		return "", fmt.Errorf("fake store: no key %q", path)
	}
	idStr := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/name")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return "", err
	}
	name, ok := f.Names[id]
	if !ok {
		return "", fmt.Errorf("fake store: no domain %d", id)
	}
	return name, nil
}

package routing

import (
	"bufio"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// TableKind selects the ID space a table is allocated from.
type TableKind int

const (
	KindRegular TableKind = iota
	KindVPNClient
)

func (k TableKind) String() string {
	if k == KindVPNClient {
		return "vpn_client"
	}
	return "regular"
}

// Reserved kernel table IDs.
const (
	TableUnspec  = 0
	TableDefault = 253
	TableMain    = 254
	TableLocal   = 255
)

var wellKnownTables = map[string]int{
	"unspec":  TableUnspec,
	"default": TableDefault,
	"main":    TableMain,
	"local":   TableLocal,
}

var ErrTableNotFound = errors.New("routing table not found")

// TableEntry is a single name binding in the rt_tables file.
type TableEntry struct {
	ID   int
	Name string
}

// TableAllocator persists table name to ID bindings in an rt_tables style file.
// IDs of a kind are multiples of the lowest set bit of the kind's mask, so a table ID
// can be used directly as a fwmark under that mask.
type TableAllocator struct {
	mu    sync.Mutex
	path  string
	masks map[TableKind]uint32
}

func NewTableAllocator(path string, vcMask, regularMask uint32) *TableAllocator {
	return &TableAllocator{
		path: path,
		masks: map[TableKind]uint32{
			KindVPNClient: vcMask,
			KindRegular:   regularMask,
		},
	}
}

func (a *TableAllocator) Path() string {
	return a.path
}

// Mask returns the mark mask of the given kind.
func (a *TableAllocator) Mask(kind TableKind) uint32 {
	return a.masks[kind]
}

// Create returns the ID bound to name, allocating the lowest free ID of the given kind
// if there is none yet.
func (a *TableAllocator) Create(name string, kind TableKind) (int, error) {
	if err := validateTableName(name); err != nil {
		return 0, err
	}
	if id, ok := wellKnownTables[name]; ok {
		return id, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.read()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, nil
		}
	}

	mask, ok := a.masks[kind]
	if !ok || mask == 0 {
		return 0, fmt.Errorf("no mask configured for %s tables", kind)
	}
	id, err := nextFreeID(entries, mask)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s table %s: %w", kind, name, err)
	}

	if err := a.appendEntry(TableEntry{ID: id, Name: name}); err != nil {
		return 0, err
	}
	log.Debugf("Allocated routing table %s (%s) with ID %d", name, kind, id)
	return id, nil
}

// Lookup resolves name to its ID without allocating.
func (a *TableAllocator) Lookup(name string) (int, bool, error) {
	if id, ok := wellKnownTables[name]; ok {
		return id, true, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.read()
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, true, nil
		}
	}
	return 0, false, nil
}

// Remove drops the binding for name and returns the ID it had. Removing an unknown
// name is not an error.
func (a *TableAllocator) Remove(name string) (int, error) {
	if _, ok := wellKnownTables[name]; ok {
		return 0, fmt.Errorf("refusing to remove reserved table %s", name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", a.path, err)
	}

	removed := 0
	var sb strings.Builder
	for _, line := range strings.SplitAfter(string(raw), "\n") {
		if e, ok := parseEntry(line); ok && e.Name == name {
			removed = e.ID
			continue
		}
		sb.WriteString(line)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := a.rewrite(sb.String()); err != nil {
		return 0, err
	}
	log.Debugf("Released routing table %s (ID %d)", name, removed)
	return removed, nil
}

// Entries returns every binding in the file.
func (a *TableAllocator) Entries() ([]TableEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read()
}

func validateTableName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n#") {
		return fmt.Errorf("invalid routing table name %q", name)
	}
	return nil
}

func nextFreeID(entries []TableEntry, mask uint32) (int, error) {
	shift := bits.TrailingZeros32(mask)
	slots := int(mask>>shift) + 1

	used := utils.NewBitSet(slots)
	for _, e := range entries {
		if uint32(e.ID)&^mask != 0 {
			continue
		}
		used.Add(int(uint32(e.ID) >> shift))
	}

	for idx := used.FirstClear(1); idx > 0; idx = used.FirstClear(idx + 1) {
		id := idx << shift
		if id == TableDefault || id == TableMain || id == TableLocal {
			continue
		}
		return id, nil
	}
	return 0, fmt.Errorf("no free table IDs left under mask 0x%x", mask)
}

func (a *TableAllocator) read() ([]TableEntry, error) {
	file, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer utils.CloseOrWarn(file)

	var entries []TableEntry
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		e, ok := parseEntry(scanner.Text())
		if !ok {
			continue
		}
		if e.ID < 0 {
			log.Warnf("Skipping malformed line %d in %s", lineNo, a.path)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a.path, err)
	}
	return entries, nil
}

func (a *TableAllocator) appendEntry(e TableEntry) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", a.path, err)
	}
	defer utils.CloseOrWarn(file)

	_, err = fmt.Fprintf(file, "%d\t%s\n", e.ID, e.Name)
	return err
}

// parseEntry parses one rt_tables line. ok is false for blank and comment lines;
// malformed lines are returned with a negative ID.
func parseEntry(line string) (TableEntry, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return TableEntry{}, false
	}
	if len(fields) != 2 {
		return TableEntry{ID: -1}, true
	}
	id, err := strconv.ParseUint(fields[0], 0, 32)
	if err != nil {
		return TableEntry{ID: -1}, true
	}
	return TableEntry{ID: int(id), Name: fields[1]}, true
}

func (a *TableAllocator) rewrite(content string) error {
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", a.path, err)
	}
	return nil
}

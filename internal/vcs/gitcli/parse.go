package gitcli

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/moneybenn-online/salt/internal/vcs"
)

// parseVersion extracts the dotted version from "git version X.Y.Z ...".
func parseVersion(out string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return "", fmt.Errorf("unexpected git version output %q", strings.TrimSpace(out))
	}
	return fields[2], nil
}

// compareVersions compares dotted numeric versions. Non-numeric trailing
// components (e.g. "2.39.2.windows.1") compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// parseRefs parses for-each-ref output in the format
// "%(refname)\x00%(objectname)\x00%(*objectname)", one ref per line.
func parseRefs(out string) ([]vcs.Ref, error) {
	var refs []vcs.Ref
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\x00")
		if len(parts) != 3 {
			return nil, fmt.Errorf("unexpected for-each-ref line %q", line)
		}
		name, objectID, peeled := parts[0], parts[1], parts[2]
		ref := vcs.Ref{ObjectID: objectID}
		switch {
		case strings.HasPrefix(name, "refs/heads/"):
			ref.Name = strings.TrimPrefix(name, "refs/heads/")
			ref.Kind = vcs.KindBranch
		case strings.HasPrefix(name, "refs/tags/"):
			ref.Name = strings.TrimPrefix(name, "refs/tags/")
			ref.Kind = vcs.KindTag
			if peeled != "" {
				ref.ObjectID = peeled
			}
		default:
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseTree parses NUL-terminated `ls-tree -r -t -z --long` records of the
// form "<mode> <type> <object> <size>\t<path>". Tree entries report size
// "-" and become directories.
func parseTree(out []byte) ([]vcs.TreeEntry, error) {
	var entries []vcs.TreeEntry
	for _, record := range bytes.Split(out, []byte{0}) {
		if len(record) == 0 {
			continue
		}
		tab := bytes.IndexByte(record, '\t')
		if tab < 0 {
			return nil, fmt.Errorf("unexpected ls-tree record %q", record)
		}
		meta := strings.Fields(string(record[:tab]))
		if len(meta) != 4 {
			return nil, fmt.Errorf("unexpected ls-tree record %q", record)
		}
		objType, objectID, sizeStr := meta[1], meta[2], meta[3]
		path := string(record[tab+1:])
		entry := vcs.TreeEntry{Path: path, ObjectID: objectID}
		switch objType {
		case "tree":
			entry.IsDir = true
		case "blob":
			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unexpected ls-tree size %q for %s", sizeStr, path)
			}
			entry.Size = size
		default:
			// Submodule commits and other object types are not served.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

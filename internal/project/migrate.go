package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// CurrentVersion is the schema version written by this release.
//
//	0  unversioned documents from the first releases
//	1  "1.0" string version, settings optional per project
//	2  integer version, settings and point lists always present
const CurrentVersion = 2

// migration upgrades a raw document by exactly one version. Migrations must
// not modify their input.
type migration func(raw map[string]any) (map[string]any, error)

// migrations is keyed by source version.
var migrations = map[int]migration{
	0: migrateV0,
	1: migrateV1,
}

// decodeRaw parses data into a generic object, keeping numbers exact.
func decodeRaw(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("document is null")
	}
	return raw, nil
}

// detectVersion reads the schema version tag. A missing tag means version 0.
func detectVersion(raw map[string]any) (int, error) {
	v, ok := raw["version"]
	if !ok || v == nil {
		return 0, nil
	}

	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = t
	default:
		return 0, fmt.Errorf("%w: version has type %T", ErrUnsupportedVersion, v)
	}

	major, _, _ := strings.Cut(strings.TrimSpace(text), ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, text)
	}
	if n > CurrentVersion {
		return 0, fmt.Errorf("%w: %d is newer than %d", ErrUnsupportedVersion, n, CurrentVersion)
	}
	return n, nil
}

// migrate applies registered migrations until raw reaches CurrentVersion.
// It returns the upgraded object and the version it started from.
func migrate(raw map[string]any) (map[string]any, int, error) {
	from, err := detectVersion(raw)
	if err != nil {
		return nil, 0, err
	}

	for v := from; v < CurrentVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, from, fmt.Errorf("%w: no migration from version %d", ErrUnsupportedVersion, v)
		}
		if raw, err = step(raw); err != nil {
			return nil, from, fmt.Errorf("migrating from version %d: %w", v, err)
		}
	}
	return raw, from, nil
}

// migrateV0 keeps the project list, the active pointer and createdAt and
// drops everything else.
func migrateV0(raw map[string]any) (map[string]any, error) {
	out := map[string]any{
		"version":  "1.0",
		"projects": []any{},
	}
	if projects, ok := raw["projects"].([]any); ok {
		out["projects"] = projects
	} else if _, present := raw["projects"]; present {
		return nil, fmt.Errorf("projects is not a list")
	}
	if active, ok := raw["activeProjectId"].(string); ok {
		out["activeProjectId"] = active
	}
	if created, ok := raw["createdAt"].(string); ok {
		out["createdAt"] = created
	}
	return out, nil
}

// migrateV1 fills per-project defaults that version 1 left optional and
// switches to an integer version.
func migrateV1(raw map[string]any) (map[string]any, error) {
	out := map[string]any{
		"version":         json.Number(strconv.Itoa(2)),
		"projects":        []any{},
		"activeProjectId": raw["activeProjectId"],
		"createdAt":       raw["createdAt"],
		"updatedAt":       raw["updatedAt"],
	}

	projects, ok := raw["projects"].([]any)
	if !ok {
		if raw["projects"] != nil {
			return nil, fmt.Errorf("projects is not a list")
		}
		return out, nil
	}

	upgraded := make([]any, 0, len(projects))
	for _, entry := range projects {
		src, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		p := maps.Clone(src)
		data, _ := p["data"].(map[string]any)
		data = maps.Clone(data)
		if data == nil {
			data = map[string]any{}
		}
		if points, ok := data["referencePoints"].([]any); ok {
			data["referencePoints"] = migratePointsV1(points)
		} else {
			data["referencePoints"] = []any{}
		}
		if _, ok := data["mapCenter"].([]any); !ok {
			data["mapCenter"] = []any{
				json.Number(strconv.FormatFloat(DefaultMapCenter[0], 'f', -1, 64)),
				json.Number(strconv.FormatFloat(DefaultMapCenter[1], 'f', -1, 64)),
			}
		}
		settings, _ := data["settings"].(map[string]any)
		settings = maps.Clone(settings)
		if settings == nil {
			settings = map[string]any{}
		}
		if _, ok := settings["autoCalculate"].(bool); !ok {
			settings["autoCalculate"] = true
		}
		if _, ok := settings["maxPoints"].(json.Number); !ok {
			settings["maxPoints"] = json.Number(strconv.Itoa(DefaultMaxPoints))
		}
		data["settings"] = settings
		p["data"] = data
		upgraded = append(upgraded, p)
	}
	out["projects"] = upgraded
	return out, nil
}

// migratePointsV1 keeps lastModified only when it holds text. The first
// releases wrote local clock time ("14:23:05") there; it stays as is.
func migratePointsV1(points []any) []any {
	out := make([]any, 0, len(points))
	for _, entry := range points {
		src, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		pt := maps.Clone(src)
		switch v := pt["lastModified"].(type) {
		case string:
			if v == "" {
				delete(pt, "lastModified")
			}
		case json.Number:
			pt["lastModified"] = v.String()
		default:
			delete(pt, "lastModified")
		}
		out = append(out, pt)
	}
	return out
}

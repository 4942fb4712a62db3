package encounter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/platform/apperr"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func decodeRecordRefs(raw []byte) (map[RecordKind]uuid.UUID, error) {
	refs := map[RecordKind]uuid.UUID{}
	if len(raw) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("decode station record refs: %w", err)
	}
	return refs, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func stationPtr(s *string) *Station {
	if s == nil || *s == "" {
		return nil
	}
	st := Station(*s)
	return &st
}

func stationString(s *Station) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func versionConflict(id uuid.UUID, expected, current int) error {
	return apperr.Conflict("encounter %s is at version %d, expected %d", id, current, expected).
		WithDetail("current_version", current).
		WithDetail("expected_version", expected)
}

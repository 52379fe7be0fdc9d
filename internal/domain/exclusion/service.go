package exclusion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Registry manages the excluded-code table. It is mutated only through Add
// and Remove; pipeline runs read it once through Snapshot.
type Registry struct {
	codes  Repository
	vocab  VocabularyRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewRegistry(codes Repository, vocab VocabularyRepository, logger zerolog.Logger) *Registry {
	return &Registry{
		codes:  codes,
		vocab:  vocab,
		logger: logger.With().Str("component", "exclusion-registry").Logger(),
		now:    time.Now,
	}
}

func (r *Registry) validate(value, codeType string) (Code, error) {
	t, err := ParseCodeType(codeType)
	if err != nil {
		return Code{}, err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Code{}, &InvalidCodeError{CodeValue: value}
	}
	return Code{Type: t, Value: value}, nil
}

// Add inserts the code unless it is already excluded. The value must resolve
// to a known vocabulary code.
func (r *Registry) Add(ctx context.Context, value, codeType string) (*ExcludedCode, error) {
	code, err := r.validate(value, codeType)
	if err != nil {
		return nil, err
	}
	known, err := r.vocab.CodeExists(ctx, code.Value)
	if err != nil {
		return nil, fmt.Errorf("look up code %s: %w", code.Value, err)
	}
	if !known {
		return nil, &InvalidCodeError{CodeValue: code.Value}
	}
	exists, err := r.codes.Exists(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("check excluded code: %w", err)
	}
	if exists {
		r.logger.Debug().Str("code_type", string(code.Type)).Str("code_value", code.Value).Msg("code already excluded")
		return nil, nil
	}
	row, err := r.codes.Insert(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("insert excluded code: %w", err)
	}
	r.logger.Info().Str("code_type", string(code.Type)).Str("code_value", code.Value).Msg("code excluded")
	return row, nil
}

// Remove deletes every row matching the code and returns how many were removed.
func (r *Registry) Remove(ctx context.Context, value, codeType string) (int64, error) {
	code, err := r.validate(value, codeType)
	if err != nil {
		return 0, err
	}
	exists, err := r.codes.Exists(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("check excluded code: %w", err)
	}
	if !exists {
		return 0, nil
	}
	n, err := r.codes.Delete(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("delete excluded code: %w", err)
	}
	r.logger.Info().Str("code_type", string(code.Type)).Str("code_value", code.Value).Int64("rows", n).Msg("code exclusion removed")
	return n, nil
}

func (r *Registry) List(ctx context.Context) ([]*ExcludedCode, error) {
	return r.codes.List(ctx)
}

// IsExcluded is a direct membership test against the live table.
func (r *Registry) IsExcluded(ctx context.Context, value, codeType string) (bool, error) {
	t, err := ParseCodeType(codeType)
	if err != nil {
		return false, err
	}
	return r.codes.Exists(ctx, Code{Type: t, Value: value})
}

// Snapshot freezes the current registry contents for one pipeline run.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	rows, err := r.codes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list excluded codes: %w", err)
	}
	codes := make([]Code, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, row.Code())
	}
	snap := NewSnapshot(codes, r.now())
	r.logger.Info().Int("codes", snap.Len()).Msg("excluded code snapshot taken")
	return snap, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/birdsearch/internal/model"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
	"github.com/xxxsen/birdsearch/internal/store"
)

type labelStore interface {
	store.SessionStore
	store.ResultStore
	store.ResultTagStore
}

// LabelService applies user labels to search results.
type LabelService struct {
	store  labelStore
	locker *SessionLocker
}

func NewLabelService(st labelStore, locker *SessionLocker) *LabelService {
	return &LabelService{store: st, locker: locker}
}

// FlagUpdate sets the given flags; nil fields are left unchanged.
type FlagUpdate struct {
	IsNegative  *bool `json:"is_negative"`
	IsUncertain *bool `json:"is_uncertain"`
	IsSkipped   *bool `json:"is_skipped"`
}

func (s *LabelService) AssignTag(ctx context.Context, userID, sessionID, resultID, tagID string) (*model.SearchResult, error) {
	return s.mutate(ctx, userID, sessionID, resultID, func(sess *model.SearchSession, r *model.SearchResult, state *model.LabelState) error {
		if !sess.HasTag(tagID) {
			return fmt.Errorf("tag %s is not a target tag of session: %w", tagID, appErr.ErrInvalid)
		}
		return s.store.AddResultTag(ctx, sessionID, resultID, tagID)
	})
}

func (s *LabelService) RemoveTag(ctx context.Context, userID, sessionID, resultID, tagID string) (*model.SearchResult, error) {
	return s.mutate(ctx, userID, sessionID, resultID, func(sess *model.SearchSession, r *model.SearchResult, state *model.LabelState) error {
		if !r.HasTag(tagID) {
			return fmt.Errorf("tag %s not assigned: %w", tagID, appErr.ErrNotFound)
		}
		return s.store.RemoveResultTag(ctx, sessionID, resultID, tagID)
	})
}

func (s *LabelService) SetNegative(ctx context.Context, userID, sessionID, resultID string, value bool) (*model.SearchResult, error) {
	return s.SetFlags(ctx, userID, sessionID, resultID, FlagUpdate{IsNegative: &value})
}

func (s *LabelService) SetUncertain(ctx context.Context, userID, sessionID, resultID string, value bool) (*model.SearchResult, error) {
	return s.SetFlags(ctx, userID, sessionID, resultID, FlagUpdate{IsUncertain: &value})
}

func (s *LabelService) SetSkipped(ctx context.Context, userID, sessionID, resultID string, value bool) (*model.SearchResult, error) {
	return s.SetFlags(ctx, userID, sessionID, resultID, FlagUpdate{IsSkipped: &value})
}

func (s *LabelService) SetFlags(ctx context.Context, userID, sessionID, resultID string, update FlagUpdate) (*model.SearchResult, error) {
	return s.mutate(ctx, userID, sessionID, resultID, func(sess *model.SearchSession, r *model.SearchResult, state *model.LabelState) error {
		if update.IsNegative != nil {
			state.IsNegative = *update.IsNegative
		}
		if update.IsUncertain != nil {
			state.IsUncertain = *update.IsUncertain
		}
		if update.IsSkipped != nil {
			state.IsSkipped = *update.IsSkipped
		}
		return nil
	})
}

// ClearLabels removes every tag and flag from the result.
func (s *LabelService) ClearLabels(ctx context.Context, userID, sessionID, resultID string) (*model.SearchResult, error) {
	return s.mutate(ctx, userID, sessionID, resultID, func(sess *model.SearchSession, r *model.SearchResult, state *model.LabelState) error {
		for _, tagID := range r.TagIDs {
			if err := s.store.RemoveResultTag(ctx, sessionID, resultID, tagID); err != nil {
				return err
			}
		}
		state.IsNegative = false
		state.IsUncertain = false
		state.IsSkipped = false
		return nil
	})
}

type labelMutation func(sess *model.SearchSession, r *model.SearchResult, state *model.LabelState) error

func (s *LabelService) mutate(ctx context.Context, userID, sessionID, resultID string, fn labelMutation) (*model.SearchResult, error) {
	unlock := s.locker.Lock(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsFinalized {
		return nil, fmt.Errorf("session %s is finalized: %w", sessionID, appErr.ErrInvalidSessionState)
	}
	r, err := s.store.GetResult(ctx, sessionID, resultID)
	if err != nil {
		return nil, err
	}
	state := model.LabelState{
		IsNegative:  r.IsNegative,
		IsUncertain: r.IsUncertain,
		IsSkipped:   r.IsSkipped,
	}
	if err := fn(sess, r, &state); err != nil {
		return nil, err
	}
	state.LabeledBy = userID
	state.LabeledOn = timeutil.NowUnix()
	if err := s.store.UpdateLabelState(ctx, sessionID, resultID, state); err != nil {
		return nil, err
	}
	return s.store.GetResult(ctx, sessionID, resultID)
}

package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// statefulEmbedder fits a vocabulary once and can export it so that every
// process sharing the store encodes into the same space.
type statefulEmbedder interface {
	domain.Embedder
	Fitted() bool
	MarshalState() ([]byte, error)
	RestoreJSON(data []byte) error
}

type unwrapper interface {
	Unwrap() domain.Embedder
}

func stateful(e domain.Embedder) (statefulEmbedder, bool) {
	for e != nil {
		if s, ok := e.(statefulEmbedder); ok {
			return s, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return nil, false
		}
		e = u.Unwrap()
	}
	return nil, false
}

// encode embeds texts. An unfitted stateful embedder first adopts the stored
// vocabulary; if there is none it fits on texts and stores the result.
func (p *Processor) encode(ctx context.Context, texts []string) ([][]float32, error) {
	st, ok := stateful(p.embedder)
	if !ok || st.Fitted() {
		return p.embedder.Encode(ctx, texts)
	}
	unlock, err := p.locker.Lock(ctx, "embedder:"+st.Name())
	if err != nil {
		return nil, err
	}
	defer unlock()

	restored, err := p.restoreState(ctx, st)
	if err != nil {
		return nil, err
	}
	vecs, err := p.embedder.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if !restored {
		data, err := st.MarshalState()
		if err != nil {
			return nil, err
		}
		if err := p.store.SaveEmbedderState(ctx, st.Name(), data); err != nil {
			return nil, fmt.Errorf("save embedder state: %w", err)
		}
		logger.FromContext(ctx).Info("embedder vocabulary stored", zap.String("embedder", st.Name()),
			zap.Int("dimension", st.Dimension()))
	}
	return vecs, nil
}

// ensureEmbedder loads the stored vocabulary into an unfitted embedder.
func (p *Processor) ensureEmbedder(ctx context.Context) error {
	st, ok := stateful(p.embedder)
	if !ok || st.Fitted() {
		return nil
	}
	unlock, err := p.locker.Lock(ctx, "embedder:"+st.Name())
	if err != nil {
		return err
	}
	defer unlock()
	_, err = p.restoreState(ctx, st)
	return err
}

// restoreState reports whether st is fitted from stored state afterwards.
func (p *Processor) restoreState(ctx context.Context, st statefulEmbedder) (bool, error) {
	if st.Fitted() {
		return true, nil
	}
	data, err := p.store.LoadEmbedderState(ctx, st.Name())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load embedder state: %w", err)
	}
	if err := st.RestoreJSON(data); err != nil {
		if st.Fitted() {
			return true, nil
		}
		return false, err
	}
	logger.FromContext(ctx).Debug("embedder vocabulary restored", zap.String("embedder", st.Name()))
	return true, nil
}

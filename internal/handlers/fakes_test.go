package handlers

import (
	"context"
	"errors"

	"github.com/mossy-p/fabcam/internal/models"
)

type scorerFunc func(frame, reference string) models.Scores

func (f scorerFunc) Score(_ context.Context, frame, reference string) (models.Scores, error) {
	return f(frame, reference), nil
}

type brokenFrames struct{}

func (brokenFrames) Capture(context.Context, string) (models.Frame, error) {
	return models.Frame{}, errors.New("down")
}

func (brokenFrames) Latest(context.Context) (models.Frame, error) {
	return models.Frame{}, errors.New("down")
}

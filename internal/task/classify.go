package task

import "errors"

// Classifier is an abstract label identifying a failure category for
// retry eligibility, independent of any Go error type or exception
// hierarchy.
type Classifier interface {
	ClassifierTag() string
}

// Classify returns the classifier tag for err, or "" if err does not
// implement Classifier. Handlers wrap sentinel/transient errors in a
// type implementing Classifier to make them eligible for a task's
// declared retry set without the executor needing to know their
// concrete type.
func Classify(err error) string {
	var c Classifier
	if errors.As(err, &c) {
		return c.ClassifierTag()
	}
	return ""
}

// TaggedError is a minimal Classifier implementation for handlers that
// just want to attach a tag to an existing error.
type TaggedError struct {
	Tag string
	Err error
}

func (t *TaggedError) Error() string         { return t.Err.Error() }
func (t *TaggedError) Unwrap() error         { return t.Err }
func (t *TaggedError) ClassifierTag() string { return t.Tag }

func Tag(tag string, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Tag: tag, Err: err}
}

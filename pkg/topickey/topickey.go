// Package topickey builds and parses structured pub/sub topics of the form
//
//	<basePath>/<entityId>/<subject>/<sourceId>
//
// The base path may itself span several levels, so parsing works from the right: the
// last three levels are the entity, subject and source, and everything before them is
// the base path.
package topickey

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins topic levels.
const Separator = "/"

// Wildcards reserved by subscription filters.
const (
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"
)

// reservedChars may not appear in any field; EntityID, Subject and SourceID
// additionally may not contain Separator.
const reservedChars = SingleLevelWildcard + MultiLevelWildcard + "\x00"

// Field names reported in ValidationError.
const (
	FieldBasePath = "basePath"
	FieldEntityID = "entityId"
	FieldSubject  = "subject"
	FieldSourceID = "sourceId"
)

var ErrValidation = errors.New("invalid topic key")

// ValidationError names the field that violates the key syntax.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid topic key field %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Key identifies who produced a message and what it carries.
type Key struct {
	BasePath string `json:"basePath"`
	EntityID string `json:"entityId"`
	Subject  string `json:"subject"`
	SourceID string `json:"sourceId"`
}

// Validate checks every field against the topic syntax.
func (k Key) Validate() error {
	if err := checkReserved(FieldBasePath, k.BasePath); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{
		{FieldEntityID, k.EntityID},
		{FieldSubject, k.Subject},
		{FieldSourceID, k.SourceID},
	} {
		if f.value == "" {
			return &ValidationError{Field: f.name, Reason: "must not be empty"}
		}
		if strings.Contains(f.value, Separator) {
			return &ValidationError{Field: f.name, Reason: fmt.Sprintf("contains separator %q", Separator)}
		}
		if err := checkReserved(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// String joins the key without validating it.
func (k Key) String() string {
	if k.BasePath == "" {
		return strings.Join([]string{k.EntityID, k.Subject, k.SourceID}, Separator)
	}
	return strings.Join([]string{k.BasePath, k.EntityID, k.Subject, k.SourceID}, Separator)
}

// Topic validates k and returns its topic string.
func (k Key) Topic() (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k.String(), nil
}

// Construct validates the four identity fields and joins them into a topic.
// An empty basePath yields "<entityId>/<subject>/<sourceId>".
func Construct(basePath, entityID, subject, sourceID string) (string, error) {
	return Key{BasePath: basePath, EntityID: entityID, Subject: subject, SourceID: sourceID}.Topic()
}

// Parse splits topic into its identity fields. It reports false, not an error, for
// topics that do not follow the scheme: fewer than three levels, an empty entity,
// subject or source level, an empty single-level base path, or wildcard characters.
func Parse(topic string) (Key, bool) {
	if strings.ContainsAny(topic, reservedChars) {
		return Key{}, false
	}

	levels := strings.Split(topic, Separator)
	n := len(levels)
	if n < 3 {
		return Key{}, false
	}
	key := Key{
		BasePath: strings.Join(levels[:n-3], Separator),
		EntityID: levels[n-3],
		Subject:  levels[n-2],
		SourceID: levels[n-1],
	}
	if key.EntityID == "" || key.Subject == "" || key.SourceID == "" {
		return Key{}, false
	}
	// A single empty leading level would rebuild without its separator.
	if n == 4 && key.BasePath == "" {
		return Key{}, false
	}
	return key, true
}

func checkReserved(field, value string) error {
	if i := strings.IndexAny(value, reservedChars); i >= 0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("contains reserved character %q", value[i])}
	}
	return nil
}

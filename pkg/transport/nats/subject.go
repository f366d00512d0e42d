package nats

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/keelson-go/envelope-bridge/pkg/topickey"
)

const (
	subjectSeparator = "."
	subjectWildcard  = "*"
	subjectFullWild  = ">"
)

var ErrUnmappable = errors.New("topic cannot be mapped to a nats subject")

// TopicToSubject maps a topic key to a NATS subject by replacing "/" with ".".
func TopicToSubject(topic string) (string, error) {
	if !topickey.ValidTopic(topic) {
		return "", fmt.Errorf("%w: invalid topic %q", ErrUnmappable, topic)
	}
	levels := strings.Split(topic, topickey.Separator)
	for _, level := range levels {
		if err := checkLevel(topic, level); err != nil {
			return "", err
		}
	}
	return strings.Join(levels, subjectSeparator), nil
}

// FilterToSubject maps a topic filter to a NATS subject: "+" becomes "*" and a
// trailing "#" becomes ">".
func FilterToSubject(filter string) (string, error) {
	if !topickey.ValidFilter(filter) {
		return "", fmt.Errorf("%w: invalid filter %q", ErrUnmappable, filter)
	}
	levels := strings.Split(filter, topickey.Separator)
	for i, level := range levels {
		switch level {
		case topickey.SingleLevelWildcard:
			levels[i] = subjectWildcard
		case topickey.MultiLevelWildcard:
			levels[i] = subjectFullWild
		default:
			if err := checkLevel(filter, level); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(levels, subjectSeparator), nil
}

// SubjectToTopic maps a NATS subject back to a topic key.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, subjectSeparator, topickey.Separator)
}

func checkLevel(topic, level string) error {
	if level == "" {
		return fmt.Errorf("%w: %q has an empty level", ErrUnmappable, topic)
	}
	if strings.ContainsAny(level, subjectSeparator+subjectWildcard+subjectFullWild) ||
		strings.IndexFunc(level, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: level %q of %q", ErrUnmappable, level, topic)
	}
	return nil
}

package transport

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// TopicSeparator is the topic level separator
	TopicSeparator = "/"

	// SingleLevelWildcard matches exactly one level
	SingleLevelWildcard = "+"

	// MultiLevelWildcard matches zero or more levels (must be last)
	MultiLevelWildcard = "#"

	// MaxTopicLength is the longest topic the MQTT wire format can carry.
	MaxTopicLength = 65535
)

// TopicMatches reports whether topic matches the MQTT topic filter pattern.
//
// Pattern rules:
//   - "/" is the level separator
//   - "+" matches exactly one level ("a/+/c" matches "a/b/c" but not "a/b/d/c")
//   - "#" matches zero or more trailing levels ("a/#" matches "a", "a/b", "a/b/c")
//   - topics starting with "$" are not matched by a leading wildcard
func TopicMatches(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(pattern, SingleLevelWildcard) || strings.HasPrefix(pattern, MultiLevelWildcard)) {
		return false
	}

	if pattern == MultiLevelWildcard {
		return true
	}

	return matchLevels(strings.Split(pattern, TopicSeparator), strings.Split(topic, TopicSeparator))
}

func matchLevels(patternParts, topicParts []string) bool {
	pi, ti := 0, 0

	for pi < len(patternParts) {
		part := patternParts[pi]

		switch part {
		case MultiLevelWildcard:
			return pi == len(patternParts)-1

		case SingleLevelWildcard:
			if ti >= len(topicParts) {
				return false
			}

		default:
			if ti >= len(topicParts) || part != topicParts[ti] {
				return false
			}
		}
		pi++
		ti++
	}

	return ti == len(topicParts)
}

// ValidateTopicPattern checks a topic filter used for subscribing.
func ValidateTopicPattern(pattern string) error {
	if err := validateTopicString(pattern); err != nil {
		return err
	}

	parts := strings.Split(pattern, TopicSeparator)
	for i, part := range parts {
		if part == MultiLevelWildcard && i != len(parts)-1 {
			return fmt.Errorf("%w: %q: multi-level wildcard must be the last level", ErrInvalidTopic, pattern)
		}
		if part != SingleLevelWildcard && part != MultiLevelWildcard && strings.ContainsAny(part, "+#") {
			return fmt.Errorf("%w: %q: wildcards cannot be mixed with other characters", ErrInvalidTopic, pattern)
		}
	}
	return nil
}

// ValidateTopicName checks a concrete topic used for publishing.
func ValidateTopicName(topic string) error {
	if err := validateTopicString(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q: wildcards are not allowed in topic names", ErrInvalidTopic, topic)
	}
	return nil
}

func validateTopicString(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	case len(s) > MaxTopicLength:
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalidTopic, MaxTopicLength)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim_BrokerList(t *testing.T) {
	got := DedupeAndTrim([]string{"kafka-1:9092", " kafka-2:9092", "", "   ", "kafka-1:9092 ", "Kafka-1:9092"})

	// Case is preserved; hostnames are compared as written.
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092", "Kafka-1:9092"}, got)
}

func TestDedupeAndTrimLower_CommandDenylist(t *testing.T) {
	got := DedupeAndTrimLower([]string{"/TP", " /tpa", "/Tp", "", "/home ", "/WARP"})

	assert.Equal(t, []string{"/tp", "/tpa", "/home", "/warp"}, got)
}

func TestDedupe_EmptyInputs(t *testing.T) {
	for name, fn := range map[string]func([]string) []string{
		"trim":  DedupeAndTrim,
		"lower": DedupeAndTrimLower,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, fn(nil))
			assert.Equal(t, []string{}, fn([]string{}))
			assert.Equal(t, []string{}, fn([]string{" ", ""}))
		})
	}
}

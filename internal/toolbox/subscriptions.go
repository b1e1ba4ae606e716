package toolbox

import (
	"os"
	"strings"
)

// mandatorySubscriptions are the streams unsubscribe_channel refuses to
// remove from the subscription list.
var mandatorySubscriptions = map[string]bool{
	"volition:action_log":    true,
	"volition:heartbeat":     true,
	"volition:log_stream":    true,
	"chat:synchronous":       true,
}

// ReadSubscriptions exposes the persisted explicit-subscription list so the
// scheduler can build its stream-read set without duplicating file parsing.
func ReadSubscriptions(path string) ([]string, error) {
	return readSubscriptions(path)
}

func readSubscriptions(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func writeSubscriptions(path string, channels []string) error {
	return os.WriteFile(path, []byte(strings.Join(channels, "\n")+"\n"), 0o644)
}

func addSubscription(path, channel string) ([]string, error) {
	current, err := readSubscriptions(path)
	if err != nil {
		return nil, err
	}
	for _, c := range current {
		if c == channel {
			return current, nil
		}
	}
	current = append(current, channel)
	if err := writeSubscriptions(path, current); err != nil {
		return nil, err
	}
	return current, nil
}

func removeSubscription(path, channel string) ([]string, error) {
	current, err := readSubscriptions(path)
	if err != nil {
		return nil, err
	}
	out := current[:0]
	for _, c := range current {
		if c != channel {
			out = append(out, c)
		}
	}
	if err := writeSubscriptions(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

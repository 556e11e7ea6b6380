package domain

import (
	"fmt"
	"strings"
)

// Command is an instruction relayed to the sensor's actuator.
type Command string

const (
	CommandTestOn   Command = "TEST_ON"
	CommandTestOff  Command = "TEST_OFF"
	CommandShutdown Command = "SHUTDOWN"
)

// ParseCommand normalizes and validates a control command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CommandTestOn, CommandTestOff, CommandShutdown:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
}

// Acknowledgement is the operator-facing message for a relayed command.
func (c Command) Acknowledgement() string {
	if c == CommandShutdown {
		return "SHUTDOWN command sent. The sensor will enter deep sleep."
	}
	return fmt.Sprintf("Command %s sent.", c)
}

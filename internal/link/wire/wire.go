// Package wire is the line protocol spoken between the host and the ESP32
// node. It has no dependencies so the TinyGo firmware can import it.
package wire

import (
	"errors"
	"strconv"
	"strings"
)

// Sample is one sensor line sent by the node.
type Sample struct {
	Sensor      int      `json:"sensor"`
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// AppendSample appends the JSON line for s, newline included.
func AppendSample(dst []byte, s Sample) []byte {
	dst = append(dst, `{"sensor":`...)
	dst = strconv.AppendInt(dst, int64(s.Sensor), 10)
	dst = append(dst, `,"temperature":`...)
	dst = strconv.AppendFloat(dst, s.Temperature, 'f', 1, 64)
	if s.Humidity != nil {
		dst = append(dst, `,"humidity":`...)
		dst = strconv.AppendFloat(dst, *s.Humidity, 'f', 1, 64)
	}
	return append(dst, "}\n"...)
}

// ErrMalformed is returned for a line that is not a relay command.
var ErrMalformed = errors.New("wire: malformed command")

// FormatCommand renders a relay command such as "fan:0:on".
func FormatCommand(class string, unit int, on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return class + ":" + strconv.Itoa(unit) + ":" + state
}

// ParseCommand is the inverse of FormatCommand.
func ParseCommand(line string) (class string, unit int, on bool, err error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, false, ErrMalformed
	}
	unit, err = strconv.Atoi(parts[1])
	if err != nil || unit < 0 {
		return "", 0, false, ErrMalformed
	}
	switch parts[2] {
	case "on":
		on = true
	case "off":
	default:
		return "", 0, false, ErrMalformed
	}
	return parts[0], unit, on, nil
}

// Boot is sent once by the node after it has driven every relay off.
const Boot = "boot"

// Ack acknowledges cmd.
func Ack(cmd string) string { return "ack " + cmd }

// Reject refuses cmd. The command is echoed so a late rejection cannot be
// taken for the answer to another command.
func Reject(cmd, reason string) string { return "err " + cmd + " " + reason }

// Rejection reports whether reply refuses cmd and returns the reason.
func Rejection(reply, cmd string) (reason string, ok bool) {
	return strings.CutPrefix(reply, "err "+cmd+" ")
}

// IsReply reports whether line answers a command.
func IsReply(line string) bool {
	return strings.HasPrefix(line, "ack ") || strings.HasPrefix(line, "err ")
}

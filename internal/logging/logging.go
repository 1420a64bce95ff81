// Package logging configures the structured logger shared by every
// component of a coordination node.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a base logrus.Logger writing to stderr in text format so it
// reads well both in a terminal and piped to a log collector. Use With to
// attach a node's identity fields to every subsequent line.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// With returns the base fields every log line for this node should carry.
func With(log *logrus.Logger, nodeID uint64, host string, port int) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"node_id": nodeID,
		"host":    host,
		"port":    port,
	})
}

package consensus

import "github.com/sirupsen/logrus"

// defaultLogger is used by Forger and Validator when the caller does not
// inject its own *logrus.Entry.
func defaultLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "consensus")
}

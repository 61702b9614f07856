package session

import "log"

// Notifier shows the user what the session is doing.
type Notifier interface {
	StateChanged(s State)
	SaveStatus(s SaveStatus)
	// Merged reports that remote content was merged into the document after
	// a save conflict or a version saved elsewhere.
	Merged(version string)
	VersionCreated(version, author string)
	Warning(msg string)
}

type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) logger() *log.Logger {
	if n.Logger == nil {
		return log.Default()
	}
	return n.Logger
}

func (n LogNotifier) StateChanged(s State) {
	switch s {
	case Reconnecting:
		n.logger().Println("connection lost, reconnecting")
	case Aborted:
		n.logger().Println("realtime session aborted, reload required")
	default:
		n.logger().Printf("state %v", s)
	}
}

func (n LogNotifier) SaveStatus(s SaveStatus) {
	n.logger().Printf("save status %v", s)
}

func (n LogNotifier) Merged(version string) {
	n.logger().Printf("merged content of version %s", version)
}

func (n LogNotifier) VersionCreated(version, author string) {
	n.logger().Printf("version %s saved by %s", version, author)
}

func (n LogNotifier) Warning(msg string) {
	n.logger().Printf("warning: %s", msg)
}

package queue

import (
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// TypeScan tags scan messages on the transport.
const TypeScan = "scan"

// ScanMessage is the wire form of one badge tap. ReplyTo, when set, names
// the list the consumer pushes the reader-facing ack onto.
type ScanMessage struct {
	model.ScanEvent
	ReplyTo string `json:"replyTo,omitempty"`
}

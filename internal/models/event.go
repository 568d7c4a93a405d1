package models

import "time"

// TransferEventType names a workflow transition pushed to subscribers.
type TransferEventType string

const (
	EventProposalCreated    TransferEventType = "proposal.created"
	EventProposalClosed     TransferEventType = "proposal.closed"
	EventNegotiationStarted TransferEventType = "negotiation.started"
	EventNegotiationMessage TransferEventType = "negotiation.message"
	EventTransferOffered    TransferEventType = "transfer.offered"
	EventTransferAccepted   TransferEventType = "transfer.accepted"
	EventTransferRejected   TransferEventType = "transfer.rejected"
	EventAdmissionReviewed  TransferEventType = "admission.reviewed"
)

// TransferEvent notifies interested parties of a completed transition.
// SchoolIDs and StudentID address the recipients; an empty SchoolIDs with
// Broadcast set reaches every school (marketplace changes).
type TransferEvent struct {
	ID            string            `json:"id"`
	Type          TransferEventType `json:"type"`
	Broadcast     bool              `json:"broadcast,omitempty"`
	SchoolIDs     []string          `json:"schoolIds,omitempty"`
	StudentID     string            `json:"studentId,omitempty"`
	ProposalID    string            `json:"proposalId,omitempty"`
	NegotiationID string            `json:"negotiationId,omitempty"`
	AdmissionID   string            `json:"admissionId,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// RoutingKey is the AMQP routing key for the event.
func (e TransferEvent) RoutingKey() string {
	return "transfer." + string(e.Type)
}

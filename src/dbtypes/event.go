package dbtypes

// EventType enumerates the events the database fans out to listeners.
type EventType uint8

const (
	EventSync EventType = iota
	EventCollectionCreated
	EventCollectionDropped
	EventDocumentCreated
	EventDocumentUpdated
	EventDocumentDeleted
)

var eventDescriptions = [...]string{
	"Sync completed",
	"Collection created",
	"Collection dropped",
	"Document created",
	"Document updated",
	"Document deleted",
}

func (e EventType) String() string {
	if int(e) < len(eventDescriptions) {
		return eventDescriptions[e]
	}
	return "Unknown"
}

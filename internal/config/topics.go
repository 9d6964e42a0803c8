package config

const (
	// TopicIngestDocument is the NSQ topic carrying document ingestion tasks.
	TopicIngestDocument = "ingest.document"

	// ChannelIngestWorker is the channel the ingestion workers share.
	ChannelIngestWorker = "worker"
)

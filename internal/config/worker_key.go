package config

type WorkerKeyStruct struct {
	PersistSessionsQueue string
	RegradeQueue         string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSessionsQueue: "persist_sessions_queue",
	RegradeQueue:         "regrade_sessions_queue",
}

package config

type WorkerKeyStruct struct {
	PersistExamAuditQueue string
	// ExamAuditDeadLetter holds audit payloads the worker gave up on.
	ExamAuditDeadLetter string
}

var WorkerKey = &WorkerKeyStruct{
	PersistExamAuditQueue: "persist_exam_audit_queue",
	ExamAuditDeadLetter:   "persist_exam_audit_dead_letter",
}

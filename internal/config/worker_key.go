package config

type WorkerKeyStruct struct {
	AllocationRunQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AllocationRunQueue: "allocation_run_queue",
}

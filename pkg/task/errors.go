package task

// Errors
var (
	ErrTaskNotFound = &TaskError{Code: "task_not_found", Message: "task not found"}
	ErrTaskTerminal = &TaskError{Code: "task_terminal", Message: "task is in terminal state"}
)

// TaskError is a task-related error.
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}

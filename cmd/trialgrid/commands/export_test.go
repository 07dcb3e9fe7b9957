package commands

type (
	NewNotifier = newNotifier
	NewStatusDB = newStatusDB
	Collect     = collect

	StatusDB = statusDB
)

// SetArgs sets the arguments for the command.
func (a *App) SetArgs(args []string) {
	a.cmd.SetArgs(args)
}

// WithNewNotifier sets the notifier constructor for the app.
func WithNewNotifier(n NewNotifier) Options {
	return func(o *options) {
		o.newNotifier = n
	}
}

// WithNewStatusDB sets the database constructor used by the status command.
func WithNewStatusDB(n NewStatusDB) Options {
	return func(o *options) {
		o.newStatusDB = n
	}
}

// WithCollect sets the machine facts collector for the app.
func WithCollect(c Collect) Options {
	return func(o *options) {
		o.collect = c
	}
}

// Command discflow runs configured disc processing stages from the terminal.
//
// `discflow run <stage>` executes one stage with the configured plugins,
// holding a lock on the state directory so two runs never share it, and
// prints a per-plugin summary when the stage finishes. `discflow stages`
// lists what can be run, `discflow history` reads past runs back from the
// history database and `discflow config` creates or prints configuration.
package main

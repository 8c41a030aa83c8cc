// Package engine schedules a dependency graph of tasks. Each Run call is one
// synchronous pass: tasks whose dependencies completed become Ready, tasks
// with a failed dependency become InitFailed, and every Ready task is run.
// Failures from one pass are collected and returned together, so a failing
// task never prevents its siblings from running.
//
// Tasks may finish asynchronously. A driver that finds no work available
// registers a resumer.Resumer with ResumeOnWork and blocks on it; the engine
// fulfils it when a task reaches a terminal state from another goroutine.
package engine

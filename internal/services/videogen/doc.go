// Package videogen renders scene clips through a text-to-video service with
// a submit / poll / download task lifecycle.
package videogen

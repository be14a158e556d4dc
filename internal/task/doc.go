// Package task holds the downstream work a worker performs once the device
// gate allows it: a fixed LangChain prompt chain built on
// github.com/tmc/langchaingo.
//
// The chain is a two-message chat prompt (system + human) sent to a chat
// model; the first choice of the response is the task output. The model is
// created lazily, so the LLM credential is only needed when the task runs.
package task

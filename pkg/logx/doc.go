// Package logx is a small structured-logging facade over zerolog.
//
// It exists so components can hold a stable Logger value while sinks and
// levels are swapped at runtime via Service.Apply (config hot reload).
package logx

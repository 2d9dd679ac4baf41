package labeling

import (
	"strconv"
	"strings"

	"mace-freeze/internal/apperr"
)

const (
	MethodMACEMP = "mace-mp"
	MethodEMT    = "emt"
	MethodQE     = "qe"

	DefaultMethod = MethodMACEMP
	DefaultDevice = "cpu"
)

// 快速代理模型与高精度第一性原理方法（QE 接受多种写法）
var knownMethods = map[string]bool{
	MethodMACEMP:       false,
	MethodEMT:          false,
	MethodQE:           true,
	"quantum-espresso": true,
	"quantum_espresso": true,
}

// Options 方法相关参数全部可选；只有提供了的才会传给外部进程
type Options struct {
	ReferenceMethod string   `json:"reference_method"`
	Device          string   `json:"device"`
	PseudoDir       string   `json:"pseudo_dir"`
	PseudosJSON     string   `json:"pseudos_json"`
	InputTemplate   string   `json:"input_template"`
	QECommand       string   `json:"qe_command"`
	Kpts            string   `json:"kpts"`
	Ecutwfc         *float64 `json:"ecutwfc"`
	Ecutrho         *float64 `json:"ecutrho"`
	QEWorkdir       string   `json:"qe_workdir"`
}

// NormalizeMethod 去空白转小写，空值取默认；未知方法直接拒绝
func NormalizeMethod(method string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		return DefaultMethod, nil
	}
	if _, ok := knownMethods[m]; !ok {
		return "", apperr.InvalidArgument("不支持的参考方法: %q", method)
	}
	return m, nil
}

// IsHighFidelity 是否为第一性原理（DFT）方法
func IsHighFidelity(method string) bool {
	return knownMethods[strings.ToLower(strings.TrimSpace(method))]
}

// BuildArgs 组装标注脚本参数，script 固定为第一个参数
func BuildArgs(script, input, output, method, device string, opts Options) []string {
	args := []string{
		script,
		"--input", input,
		"--output", output,
		"--reference", method,
		"--device", device,
	}
	optional := []struct {
		flag  string
		value string
	}{
		{"--pseudo_dir", opts.PseudoDir},
		{"--pseudos_json", opts.PseudosJSON},
		{"--input_template", opts.InputTemplate},
		{"--qe_command", opts.QECommand},
		{"--kpts", opts.Kpts},
		{"--ecutwfc", formatFloat(opts.Ecutwfc)},
		{"--ecutrho", formatFloat(opts.Ecutrho)},
		{"--qe_workdir", opts.QEWorkdir},
	}
	for _, o := range optional {
		if o.value == "" {
			continue
		}
		args = append(args, o.flag, o.value)
	}
	return args
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

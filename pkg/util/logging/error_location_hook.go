/*
Copyright the Snaplife contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logging

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	errorFileField     = "error.file"
	errorFunctionField = "error.function"
)

// ErrorLocationHook is a logrus hook that attaches error location
// information to log entries if an error is being logged and it has
// stack-trace information (i.e. if it originates from or is wrapped by
// github.com/pkg/errors).
type ErrorLocationHook struct{}

func (h *ErrorLocationHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ErrorLocationHook) Fire(entry *logrus.Entry) error {
	errObj, exists := entry.Data[logrus.ErrorKey]
	if !exists {
		return nil
	}

	err, ok := errObj.(error)
	if !ok {
		return errors.Errorf("object logged as error does not satisfy error interface; type=%T", errObj)
	}

	stackErr := getInnermostTrace(err)
	if stackErr == nil {
		return nil
	}

	stackTrace := stackErr.StackTrace()
	// There is not a format specifier that gets the full path of the file
	// (see https://github.com/pkg/errors/issues/136). We use %+v which
	// prints out "FunctionName\n\tFile:Line" and then we parse it into
	// each part.
	functionNameAndFileAndLine := fmt.Sprintf("%+v", stackTrace[0])
	newLine := strings.Index(functionNameAndFileAndLine, "\n")
	functionName := functionNameAndFileAndLine[0:newLine]
	tab := strings.LastIndex(functionNameAndFileAndLine, "\t")
	fileAndLine := removePackagePrefix(functionNameAndFileAndLine[tab+1:])

	entry.Data[errorFileField] = fileAndLine
	entry.Data[errorFunctionField] = functionName

	return nil
}

type stackTracer interface {
	error
	StackTrace() errors.StackTrace
}

type causer interface {
	Cause() error
}

// getInnermostTrace returns the innermost error that
// has a stack trace attached
func getInnermostTrace(err error) stackTracer {
	var tracer stackTracer

	for {
		t, isTracer := err.(stackTracer)
		if isTracer {
			tracer = t
		}

		c, isCauser := err.(causer)
		if isCauser {
			err = c.Cause()
		} else {
			return tracer
		}
	}
}

// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azureauth

import (
	stderrors "errors"

	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
)

const (
	codeResourceNotFound                = "Request_ResourceNotFound"
	codeMultipleObjectsWithSameKeyValue = "Request_MultipleObjectsWithSameKeyValue"
)

// hasODataCode reports whether err is a Graph OData error carrying one
// of the given service codes.
func hasODataCode(err error, codes ...string) bool {
	var dataErr *odataerrors.ODataError
	if !stderrors.As(err, &dataErr) {
		return false
	}
	mainErr := dataErr.GetErrorEscaped()
	if mainErr == nil || mainErr.GetCode() == nil {
		return false
	}
	for _, code := range codes {
		if *mainErr.GetCode() == code {
			return true
		}
	}
	return false
}

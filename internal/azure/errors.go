// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	stderrors "errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// hasErrorCode reports whether err is an ARM response error carrying
// one of the given service error codes.
func hasErrorCode(err error, codes ...string) bool {
	var respErr *azcore.ResponseError
	if !stderrors.As(err, &respErr) {
		return false
	}
	for _, code := range codes {
		if respErr.ErrorCode == code {
			return true
		}
	}
	return false
}

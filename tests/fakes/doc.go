// Package fakes provides test doubles for the AWS SDK clients used by the
// store implementations.
//
// Fakes are manually implemented (not generated) so tests control staging
// state and errors precisely.
//
// Usage:
//
//	fake := fakes.NewFakeSecretsManagerClient()
//	fake.AddSecretString("db/app", `{"password":"old"}`)
//	store, _ := awssm.New(ctx, awssm.Config{}, awssm.WithAPI(fake), awssm.WithIdentityAPI(&fakes.FakeSTSClient{}))
//	// Test store methods...
package fakes

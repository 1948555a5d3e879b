// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package p4rt

import (
	"context"
	"crypto/tls"
	"github.com/onosproject/onos-lib-go/pkg/certs"
	"github.com/onosproject/onos-lib-go/pkg/grpc/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const maxMessageSize = 16 * 1024 * 1024

// DialConfig describes how to reach a P4Runtime target
type DialConfig struct {
	Address string
	// Insecure selects a plaintext connection
	Insecure bool
	// CertPath and KeyPath name the client certificate; the default client certificate is used when empty
	CertPath string
	KeyPath  string
	// Retry retries unary calls which fail with transient errors
	Retry   bool
	Options []grpc.DialOption
}

// GetClientCredentials returns the TLS configuration of the client; the server certificate is not verified
func GetClientCredentials(certPath string, keyPath string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if len(certPath) == 0 && len(keyPath) == 0 {
		cert, err = tls.X509KeyPair([]byte(certs.DefaultClientCrt), []byte(certs.DefaultClientKey))
	} else {
		cert, err = tls.LoadX509KeyPair(certPath, keyPath)
	}
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
	}, nil
}

// Dial creates a gRPC connection to the P4Runtime target
func Dial(ctx context.Context, cfg DialConfig) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := GetClientCredentials(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}
	if cfg.Retry {
		opts = append(opts, grpc.WithUnaryInterceptor(retry.RetryingUnaryClientInterceptor()))
	}
	opts = append(opts, cfg.Options...)

	log.Infof("Connecting to P4Runtime target %s", cfg.Address)
	return grpc.DialContext(ctx, cfg.Address, opts...)
}

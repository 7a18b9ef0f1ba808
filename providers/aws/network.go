package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/mlstack-io/mlstack/internal/engine"
	"github.com/mlstack-io/mlstack/internal/provider"
	"github.com/mlstack-io/mlstack/internal/stack"
)

// ensureNetwork converges the network fabric for one stack: a VPC with DNS
// enabled, an internet gateway, a public route table, one public subnet per
// configured CIDR across distinct availability zones, a load balancer
// security group open on port 80, a service security group that only admits
// the load balancer, and an internet-facing application load balancer with
// an IP target group and an HTTP listener. Every piece is discovered by tag
// before it is created, so re-running adopts instead of duplicating.
func (p *Provider) ensureNetwork(ctx context.Context, spec *stack.ResourceSpec) (*provider.EnsureResult, error) {
	id := spec.ID()
	name := spec.Name
	cidr := spec.ParamString("cidr", "10.0.0.0/16")
	containerPort := spec.ParamInt("containerPort", 8080)
	subnetCidrs := paramStrings(spec, "subnetCidrs", []string{"10.0.1.0/24", "10.0.2.0/24"})

	vpcID, err := p.ensureVpc(ctx, name, cidr)
	if err != nil {
		return nil, classify(id, err)
	}
	igwID, err := p.ensureInternetGateway(ctx, name, vpcID)
	if err != nil {
		return nil, classify(id, err)
	}
	rtID, err := p.ensureRouteTable(ctx, name, vpcID, igwID)
	if err != nil {
		return nil, classify(id, err)
	}
	subnetIDs, err := p.ensureSubnets(ctx, name, vpcID, rtID, subnetCidrs)
	if err != nil {
		return nil, classify(id, err)
	}
	albSG, err := p.ensureSecurityGroup(ctx, name+"-alb-sg", vpcID, "load balancer ingress",
		ingressFromAnywhere(80))
	if err != nil {
		return nil, classify(id, err)
	}
	svcSG, err := p.ensureSecurityGroup(ctx, name+"-svc-sg", vpcID, "service ingress from load balancer",
		ingressFromGroup(containerPort, albSG))
	if err != nil {
		return nil, classify(id, err)
	}
	albArn, albDNS, err := p.ensureLoadBalancer(ctx, name, subnetIDs, albSG)
	if err != nil {
		return nil, classify(id, err)
	}
	tgArn, err := p.ensureTargetGroup(ctx, name, vpcID, containerPort)
	if err != nil {
		return nil, classify(id, err)
	}
	if err := p.ensureListener(ctx, albArn, tgArn); err != nil {
		return nil, classify(id, err)
	}

	outputs := map[string]any{
		"vpc_id":            vpcID,
		"subnet_ids":        subnetIDs,
		"alb_arn":           albArn,
		"alb_dns_name":      albDNS,
		"target_group_arn":  tgArn,
		"alb_sg_id":         albSG,
		"service_sg_id":     svcSG,
		"internet_gateway":  igwID,
		"route_table_id":    rtID,
		"service_url":       fmt.Sprintf("http://%s", albDNS),
		"container_port":    containerPort,
		"availability_zone": p.region,
	}
	return &provider.EnsureResult{ExternalID: vpcID, Outputs: outputs}, nil
}

func (p *Provider) ensureVpc(ctx context.Context, name, cidr string) (string, error) {
	existing, err := p.findVpc(ctx, name)
	if err != nil {
		return "", err
	}
	vpcID := existing
	if vpcID == "" {
		out, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
			CidrBlock:         aws.String(cidr),
			TagSpecifications: nameTags(ec2types.ResourceTypeVpc, name),
		})
		if err != nil {
			return "", fmt.Errorf("create vpc: %w", err)
		}
		vpcID = *out.Vpc.VpcId
	}

	for _, attr := range []ec2.ModifyVpcAttributeInput{
		{VpcId: aws.String(vpcID), EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)}},
		{VpcId: aws.String(vpcID), EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)}},
	} {
		if _, err := p.ec2Client.ModifyVpcAttribute(ctx, &attr); err != nil {
			return "", fmt.Errorf("enable vpc dns: %w", err)
		}
	}
	return vpcID, nil
}

func (p *Provider) findVpc(ctx context.Context, name string) (string, error) {
	out, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{nameFilter(name)},
	})
	if err != nil {
		return "", fmt.Errorf("describe vpcs: %w", err)
	}
	if len(out.Vpcs) == 0 {
		return "", nil
	}
	return *out.Vpcs[0].VpcId, nil
}

func (p *Provider) ensureInternetGateway(ctx context.Context, name, vpcID string) (string, error) {
	out, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("attachment.vpc-id"),
			Values: []string{vpcID},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("describe internet gateways: %w", err)
	}
	if len(out.InternetGateways) > 0 {
		return *out.InternetGateways[0].InternetGatewayId, nil
	}

	created, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: nameTags(ec2types.ResourceTypeInternetGateway, name),
	})
	if err != nil {
		return "", fmt.Errorf("create internet gateway: %w", err)
	}
	igwID := *created.InternetGateway.InternetGatewayId
	_, err = p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(igwID),
		VpcId:             aws.String(vpcID),
	})
	if err != nil {
		return "", fmt.Errorf("attach internet gateway: %w", err)
	}
	return igwID, nil
}

func (p *Provider) ensureRouteTable(ctx context.Context, name, vpcID, igwID string) (string, error) {
	out, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{nameFilter(name), {
			Name:   aws.String("vpc-id"),
			Values: []string{vpcID},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("describe route tables: %w", err)
	}
	var rtID string
	if len(out.RouteTables) > 0 {
		rtID = *out.RouteTables[0].RouteTableId
	} else {
		created, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
			VpcId:             aws.String(vpcID),
			TagSpecifications: nameTags(ec2types.ResourceTypeRouteTable, name),
		})
		if err != nil {
			return "", fmt.Errorf("create route table: %w", err)
		}
		rtID = *created.RouteTable.RouteTableId
	}

	_, err = p.ec2Client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(rtID),
		DestinationCidrBlock: aws.String("0.0.0.0/0"),
		GatewayId:            aws.String(igwID),
	})
	if err != nil && !isAlreadyExists(err) {
		return "", fmt.Errorf("create default route: %w", err)
	}
	return rtID, nil
}

func (p *Provider) ensureSubnets(ctx context.Context, name, vpcID, rtID string, cidrs []string) ([]string, error) {
	azs, err := p.ec2Client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, fmt.Errorf("describe availability zones: %w", err)
	}
	if len(azs.AvailabilityZones) < len(cidrs) {
		return nil, fmt.Errorf("region %s has %d availability zones, need %d", p.region, len(azs.AvailabilityZones), len(cidrs))
	}

	existing, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("vpc-id"),
			Values: []string{vpcID},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("describe subnets: %w", err)
	}
	byCidr := make(map[string]string, len(existing.Subnets))
	for _, sn := range existing.Subnets {
		byCidr[*sn.CidrBlock] = *sn.SubnetId
	}

	ids := make([]string, 0, len(cidrs))
	for i, cidr := range cidrs {
		snID, ok := byCidr[cidr]
		if !ok {
			created, err := p.ec2Client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
				VpcId:             aws.String(vpcID),
				CidrBlock:         aws.String(cidr),
				AvailabilityZone:  azs.AvailabilityZones[i].ZoneName,
				TagSpecifications: nameTags(ec2types.ResourceTypeSubnet, fmt.Sprintf("%s-%d", name, i+1)),
			})
			if err != nil {
				return nil, fmt.Errorf("create subnet %s: %w", cidr, err)
			}
			snID = *created.Subnet.SubnetId
		}

		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(snID),
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("enable public ip on subnet %s: %w", snID, err)
		}
		_, err = p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: aws.String(rtID),
			SubnetId:     aws.String(snID),
		})
		if err != nil && !isAlreadyExists(err) {
			return nil, fmt.Errorf("associate route table with subnet %s: %w", snID, err)
		}
		ids = append(ids, snID)
	}
	return ids, nil
}

func (p *Provider) ensureSecurityGroup(ctx context.Context, groupName, vpcID, description string, ingress ec2types.IpPermission) (string, error) {
	out, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{groupName}},
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe security groups: %w", err)
	}
	var sgID string
	if len(out.SecurityGroups) > 0 {
		sgID = *out.SecurityGroups[0].GroupId
	} else {
		created, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(groupName),
			Description: aws.String(description),
			VpcId:       aws.String(vpcID),
		})
		if err != nil {
			return "", fmt.Errorf("create security group %s: %w", groupName, err)
		}
		sgID = *created.GroupId
	}

	_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(sgID),
		IpPermissions: []ec2types.IpPermission{ingress},
	})
	if err != nil && !isAlreadyExists(err) {
		return "", fmt.Errorf("authorize ingress on %s: %w", groupName, err)
	}
	return sgID, nil
}

func (p *Provider) ensureLoadBalancer(ctx context.Context, name string, subnetIDs []string, sgID string) (arn, dns string, err error) {
	out, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		Names: []string{name + "-alb"},
	})
	if err == nil && len(out.LoadBalancers) > 0 {
		lb := out.LoadBalancers[0]
		return *lb.LoadBalancerArn, *lb.DNSName, nil
	}
	if err != nil && !isNotFound(err) {
		return "", "", fmt.Errorf("describe load balancer: %w", err)
	}

	created, err := p.elbv2Client.CreateLoadBalancer(ctx, &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:           aws.String(name + "-alb"),
		Subnets:        subnetIDs,
		SecurityGroups: []string{sgID},
		Scheme:         elbv2types.LoadBalancerSchemeEnumInternetFacing,
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
	})
	if err != nil {
		return "", "", fmt.Errorf("create load balancer: %w", err)
	}
	lb := created.LoadBalancers[0]
	return *lb.LoadBalancerArn, *lb.DNSName, nil
}

func (p *Provider) ensureTargetGroup(ctx context.Context, name, vpcID string, port int) (string, error) {
	out, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		Names: []string{name + "-tg"},
	})
	if err == nil && len(out.TargetGroups) > 0 {
		return *out.TargetGroups[0].TargetGroupArn, nil
	}
	if err != nil && !isNotFound(err) {
		return "", fmt.Errorf("describe target group: %w", err)
	}

	created, err := p.elbv2Client.CreateTargetGroup(ctx, &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:            aws.String(name + "-tg"),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            aws.Int32(int32(port)),
		VpcId:           aws.String(vpcID),
		TargetType:      elbv2types.TargetTypeEnumIp,
		HealthCheckPath: aws.String("/"),
		Matcher:         &elbv2types.Matcher{HttpCode: aws.String("200-399")},
	})
	if err != nil {
		return "", fmt.Errorf("create target group: %w", err)
	}
	return *created.TargetGroups[0].TargetGroupArn, nil
}

func (p *Provider) ensureListener(ctx context.Context, albArn, tgArn string) error {
	out, err := p.elbv2Client.DescribeListeners(ctx, &elasticloadbalancingv2.DescribeListenersInput{
		LoadBalancerArn: aws.String(albArn),
	})
	if err != nil {
		return fmt.Errorf("describe listeners: %w", err)
	}
	if len(out.Listeners) > 0 {
		return nil
	}

	_, err = p.elbv2Client.CreateListener(ctx, &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: aws.String(albArn),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            aws.Int32(80),
		DefaultActions: []elbv2types.Action{{
			Type:           elbv2types.ActionTypeEnumForward,
			TargetGroupArn: aws.String(tgArn),
		}},
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create listener: %w", err)
	}
	return nil
}

// networkHealth reports ready once the load balancer is active.
func (p *Provider) networkHealth(ctx context.Context, spec *stack.ResourceSpec) (provider.Health, error) {
	out, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		Names: []string{spec.Name + "-alb"},
	})
	if err != nil {
		if isNotFound(err) {
			return provider.HealthNotReady, nil
		}
		return provider.HealthUnknown, classify(spec.ID(), err)
	}
	if len(out.LoadBalancers) == 0 || out.LoadBalancers[0].State == nil {
		return provider.HealthNotReady, nil
	}
	switch out.LoadBalancers[0].State.Code {
	case elbv2types.LoadBalancerStateEnumActive:
		return provider.HealthReady, nil
	case elbv2types.LoadBalancerStateEnumFailed:
		return provider.HealthUnknown, engine.NewPermanentError(spec.ID(),
			fmt.Errorf("load balancer entered failed state"))
	}
	return provider.HealthNotReady, nil
}

// teardownNetwork removes the fabric in reverse dependency order. Anything
// already gone is skipped.
func (p *Provider) teardownNetwork(ctx context.Context, spec *stack.ResourceSpec, prior *stack.ResourceState) error {
	id := spec.ID()
	name := spec.Name

	if err := p.deleteLoadBalancer(ctx, name); err != nil {
		return classify(id, err)
	}
	if err := p.deleteTargetGroup(ctx, name); err != nil {
		return classify(id, err)
	}

	vpcID, err := p.findVpc(ctx, name)
	if err != nil {
		return classify(id, err)
	}
	if vpcID == "" {
		return nil
	}

	if err := p.deleteSecurityGroups(ctx, vpcID, name); err != nil {
		return classify(id, err)
	}
	if err := p.deleteSubnets(ctx, vpcID); err != nil {
		return classify(id, err)
	}
	if err := p.deleteInternetGateway(ctx, vpcID); err != nil {
		return classify(id, err)
	}
	if err := p.deleteRouteTables(ctx, vpcID); err != nil {
		return classify(id, err)
	}

	_, err = p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(vpcID)})
	if err != nil && !isNotFound(err) {
		return classify(id, fmt.Errorf("delete vpc: %w", err))
	}
	return nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, name string) error {
	out, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		Names: []string{name + "-alb"},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("describe load balancer: %w", err)
	}
	for _, lb := range out.LoadBalancers {
		listeners, err := p.elbv2Client.DescribeListeners(ctx, &elasticloadbalancingv2.DescribeListenersInput{
			LoadBalancerArn: lb.LoadBalancerArn,
		})
		if err == nil {
			for _, l := range listeners.Listeners {
				_, _ = p.elbv2Client.DeleteListener(ctx, &elasticloadbalancingv2.DeleteListenerInput{
					ListenerArn: l.ListenerArn,
				})
			}
		}
		_, err = p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
			LoadBalancerArn: lb.LoadBalancerArn,
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete load balancer: %w", err)
		}
	}
	return nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, name string) error {
	out, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		Names: []string{name + "-tg"},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("describe target group: %w", err)
	}
	for _, tg := range out.TargetGroups {
		_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
			TargetGroupArn: tg.TargetGroupArn,
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete target group: %w", err)
		}
	}
	return nil
}

func (p *Provider) deleteSecurityGroups(ctx context.Context, vpcID, name string) error {
	out, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{name + "-alb-sg", name + "-svc-sg"}},
		},
	})
	if err != nil {
		return fmt.Errorf("describe security groups: %w", err)
	}
	for _, sg := range out.SecurityGroups {
		_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: sg.GroupId})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete security group %s: %w", *sg.GroupId, err)
		}
	}
	return nil
}

func (p *Provider) deleteSubnets(ctx context.Context, vpcID string) error {
	out, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return fmt.Errorf("describe subnets: %w", err)
	}
	for _, sn := range out.Subnets {
		_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: sn.SubnetId})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete subnet %s: %w", *sn.SubnetId, err)
		}
	}
	return nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, vpcID string) error {
	out, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{{Name: aws.String("attachment.vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return fmt.Errorf("describe internet gateways: %w", err)
	}
	for _, igw := range out.InternetGateways {
		_, err := p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: igw.InternetGatewayId,
			VpcId:             aws.String(vpcID),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("detach internet gateway: %w", err)
		}
		_, err = p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
			InternetGatewayId: igw.InternetGatewayId,
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete internet gateway: %w", err)
		}
	}
	return nil
}

func (p *Provider) deleteRouteTables(ctx context.Context, vpcID string) error {
	out, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return fmt.Errorf("describe route tables: %w", err)
	}
	for _, rt := range out.RouteTables {
		main := false
		for _, assoc := range rt.Associations {
			if assoc.Main != nil && *assoc.Main {
				main = true
			}
		}
		if main {
			continue
		}
		_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: rt.RouteTableId})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete route table %s: %w", *rt.RouteTableId, err)
		}
	}
	return nil
}

func ingressFromAnywhere(port int) ec2types.IpPermission {
	return ec2types.IpPermission{
		IpProtocol: aws.String("tcp"),
		FromPort:   aws.Int32(int32(port)),
		ToPort:     aws.Int32(int32(port)),
		IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
	}
}

func ingressFromGroup(port int, sourceSG string) ec2types.IpPermission {
	return ec2types.IpPermission{
		IpProtocol:       aws.String("tcp"),
		FromPort:         aws.Int32(int32(port)),
		ToPort:           aws.Int32(int32(port)),
		UserIdGroupPairs: []ec2types.UserIdGroupPair{{GroupId: aws.String(sourceSG)}},
	}
}

func nameFilter(name string) ec2types.Filter {
	return ec2types.Filter{Name: aws.String("tag:Name"), Values: []string{name}}
}

func nameTags(rt ec2types.ResourceType, name string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{{
		ResourceType: rt,
		Tags:         []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}},
	}}
}

func paramStrings(spec *stack.ResourceSpec, key string, def []string) []string {
	raw, ok := spec.Parameters[key]
	if !ok {
		return def
	}
	list, ok := raw.([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
